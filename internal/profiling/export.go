package profiling

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Specialization mirrors one live Function's tiering state in the
// profiling export (spec §6).
type Specialization struct {
	Index              int
	Name               string
	Tier               string
	CurrentHits        uint64
	SpecializationHits uint64
	Threshold          uint64
	Eligible           bool
	Active             bool
}

// jsonEscapeString escapes s per spec §6: newlines, quotes, control
// characters < 0x20, and DEL (0x7F) become \uXXXX with uppercase hex.
// This deliberately does not delegate to encoding/json, which lowercases
// its \u00xx escapes and therefore would not satisfy the round-trip
// property in spec §8.
func jsonEscapeString(w *strings.Builder, s string) {
	w.WriteByte('"')
	for _, b := range []byte(s) {
		switch {
		case b == '"':
			w.WriteString(`\"`)
		case b == '\\':
			w.WriteString(`\\`)
		case b < 0x20 || b == 0x7F:
			fmt.Fprintf(w, `\u%04X`, b)
		default:
			w.WriteByte(b)
		}
	}
	w.WriteByte('"')
}

// Export writes the JSON profiling snapshot described in spec §6/§8 to
// w: totalInstructions, totalCycles, enabledFlags, instructions[],
// hotPaths[], loopHits[], functionHits[], specializations[].
func (c *Context) Export(w io.Writer, specializations []Specialization) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bw := bufio.NewWriter(w)
	var sb strings.Builder

	sb.WriteString("{")
	fmt.Fprintf(&sb, `"totalInstructions":%d,`, c.TotalInstructions)
	fmt.Fprintf(&sb, `"totalCycles":%d,`, c.TotalCycles)
	fmt.Fprintf(&sb, `"enabledFlags":%d,`, c.enabled)

	sb.WriteString(`"instructions":[`)
	first := true
	for i, st := range c.instructionStats {
		if st.Count == 0 {
			continue
		}
		if !first {
			sb.WriteString(",")
		}
		first = false
		fmt.Fprintf(&sb, `{"opcode":%d,"count":%d,"cycles":%d,"isHot":%t}`, i, st.Count, st.Cycles, st.IsHot)
	}
	sb.WriteString("],")

	sb.WriteString(`"hotPaths":[`)
	first = true
	for _, e := range c.hotPaths {
		if e.EntryCount == 0 {
			continue
		}
		if !first {
			sb.WriteString(",")
		}
		first = false
		fmt.Fprintf(&sb, `{"hash":%d,"entries":%d,"iterations":%d,"isHot":%t}`, e.Hash, e.EntryCount, e.TotalIterations, e.IsCurrentlyHot)
	}
	sb.WriteString("],")

	sb.WriteString(`"loopHits":[`)
	first = true
	for _, s := range c.loopStats {
		if !s.valid {
			continue
		}
		if !first {
			sb.WriteString(",")
		}
		first = false
		fmt.Fprintf(&sb, `{"address":%d,"hits":%d}`, s.Address, s.Hits)
	}
	sb.WriteString("],")

	sb.WriteString(`"functionHits":[`)
	first = true
	for _, s := range c.functionStats {
		if !s.valid {
			continue
		}
		if !first {
			sb.WriteString(",")
		}
		first = false
		fmt.Fprintf(&sb, `{"address":%d,"hits":%d}`, s.Address, s.Hits)
	}
	sb.WriteString("],")

	sb.WriteString(`"specializations":[`)
	for i, s := range specializations {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"index":`)
		fmt.Fprintf(&sb, "%d", s.Index)
		sb.WriteString(`,"name":`)
		jsonEscapeString(&sb, s.Name)
		sb.WriteString(`,"tier":`)
		jsonEscapeString(&sb, s.Tier)
		fmt.Fprintf(&sb, `,"currentHits":%d,"specializationHits":%d,"threshold":%d,"eligible":%t,"active":%t}`,
			s.CurrentHits, s.SpecializationHits, s.Threshold, s.Eligible, s.Active)
	}
	sb.WriteString("]}")

	if _, err := bw.WriteString(sb.String()); err != nil {
		return err
	}
	return bw.Flush()
}

// ExportToFile is the dump entry point named in spec §8 scenario 6.
func (c *Context) ExportToFile(path string, specializations []Specialization) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Export(f, specializations)
}
