package profiling

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/orus-lang/orusjit/internal/testing/require"
)

// Scenario 6 (spec §8): a populated context exports a JSON snapshot that
// round-trips through a standard decoder, with every top-level field
// and per-entry accounting an external consumer (a dashboard, a test
// harness) would read.
func TestExportScenario6_RoundTrips(t *testing.T) {
	c := New(10, nil)
	c.Enable(FlagAll)

	c.RecordInstruction(3, 5)
	c.RecordInstruction(3, 7)
	c.RecordHotPath(0, 0, 64)
	c.RecordLoopHit(64)
	c.RecordFunctionHit(0)
	c.RecordMemoryAccess(true)
	c.RecordCache(true)
	c.RecordBranch(true)

	var buf bytes.Buffer
	specs := []Specialization{
		{Index: 0, Name: "loop0", Tier: "specialized", CurrentHits: 2, SpecializationHits: 1, Threshold: 10, Eligible: true, Active: true},
	}
	require.NoError(t, c.Export(&buf, specs))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	require.Equal(t, float64(2), decoded["totalInstructions"])
	require.Equal(t, float64(12), decoded["totalCycles"])
	require.Equal(t, float64(FlagAll), decoded["enabledFlags"])

	instructions, ok := decoded["instructions"].([]interface{})
	require.True(t, ok)
	require.Equal(t, 1, len(instructions))
	entry := instructions[0].(map[string]interface{})
	require.Equal(t, float64(3), entry["opcode"])
	require.Equal(t, float64(2), entry["count"])
	require.Equal(t, float64(12), entry["cycles"])

	hotPaths, ok := decoded["hotPaths"].([]interface{})
	require.True(t, ok)
	require.Equal(t, 1, len(hotPaths))
	hp := hotPaths[0].(map[string]interface{})
	require.Equal(t, float64(1), hp["entries"])
	require.Equal(t, float64(1), hp["iterations"])

	loopHits, ok := decoded["loopHits"].([]interface{})
	require.True(t, ok)
	require.Equal(t, 1, len(loopHits))
	require.Equal(t, float64(64), loopHits[0].(map[string]interface{})["address"])

	functionHits, ok := decoded["functionHits"].([]interface{})
	require.True(t, ok)
	require.Equal(t, 1, len(functionHits))

	specializations, ok := decoded["specializations"].([]interface{})
	require.True(t, ok)
	require.Equal(t, 1, len(specializations))
	s := specializations[0].(map[string]interface{})
	require.Equal(t, "loop0", s["name"])
	require.Equal(t, "specialized", s["tier"])
	require.Equal(t, true, s["active"])
}

// ExportToFile is the dump entry point spec §8 scenario 6 names
// directly ("dump the profiling JSON to a file"); it must produce the
// same bytes Export would write to any other io.Writer.
func TestExportToFileWritesSameBytesAsExport(t *testing.T) {
	c := New(10, nil)
	c.Enable(FlagHotPaths)
	c.RecordHotPath(0, 0, 8)

	var buf bytes.Buffer
	require.NoError(t, c.Export(&buf, nil))

	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, c.ExportToFile(path, nil))

	fileBytes, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, buf.String(), string(fileBytes))
}

// Export with nothing recorded still produces valid, empty-array JSON
// rather than omitting the keys or emitting "null".
func TestExportWithNoActivityProducesEmptyArrays(t *testing.T) {
	c := New(10, nil)

	var buf bytes.Buffer
	require.NoError(t, c.Export(&buf, nil))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	for _, key := range []string{"instructions", "hotPaths", "loopHits", "functionHits", "specializations"} {
		arr, ok := decoded[key].([]interface{})
		require.True(t, ok)
		require.Equal(t, 0, len(arr))
	}
}

// jsonEscapeString's whole reason for existing instead of encoding/json
// is the uppercase \uXXXX form for control characters (spec §6/§8): a
// standard json.Marshal of the same string would lowercase them, so
// this asserts the literal escape text survives Export, not just that a
// decoder can read it back.
func TestJSONEscapeStringUsesUppercaseControlEscapes(t *testing.T) {
	var sb strings.Builder
	jsonEscapeString(&sb, "line\x1Fend")
	got := sb.String()

	require.True(t, strings.Contains(got, "\\u001F"))
	require.False(t, strings.Contains(got, "\\u001f"))
}

func TestJSONEscapeStringEscapesQuotesAndBackslashes(t *testing.T) {
	var sb strings.Builder
	jsonEscapeString(&sb, `say "hi"\ok`)
	got := sb.String()

	require.Equal(t, `"say \"hi\"\\ok"`, got)
}

// Export's escaped specialization name still decodes back to the exact
// original string through a standard JSON parser, the round-trip
// property spec §8 describes even though the encoder is hand-written.
func TestJSONEscapeStringRoundTripsThroughStandardDecoder(t *testing.T) {
	c := New(10, nil)
	name := "weird\x1Fname\"with\\quotes\nand\tnewline"

	var buf bytes.Buffer
	require.NoError(t, c.Export(&buf, []Specialization{{Index: 0, Name: name, Tier: "baseline"}}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	specializations := decoded["specializations"].([]interface{})
	got := specializations[0].(map[string]interface{})["name"].(string)
	require.Equal(t, name, got)
}

func TestRecordHotPathEnqueuesSampleOnceThresholdCrossed(t *testing.T) {
	c := New(2, nil)
	c.Enable(FlagHotPaths)

	c.RecordHotPath(1, 2, 800)
	require.Equal(t, 0, len(c.DrainPendingSamples()))

	c.RecordHotPath(1, 2, 800)
	samples := c.DrainPendingSamples()
	require.Equal(t, 1, len(samples))
	require.Equal(t, uint16(1), samples[0].FunctionIndex)
	require.Equal(t, uint16(2), samples[0].LoopIndex)
	require.Equal(t, uint32(800), samples[0].Loop)

	// Draining clears the queue.
	require.Equal(t, 0, len(c.DrainPendingSamples()))
}

func TestRecordHotPathSkipsEnqueueWhenBlocklisted(t *testing.T) {
	c := New(1, func(functionIndex, loopIndex uint16) bool { return true })
	c.Enable(FlagHotPaths)

	c.RecordHotPath(0, 0, 64)
	require.Equal(t, 0, len(c.DrainPendingSamples()))
}

func TestResetHotPathEntryCountRearmsSample(t *testing.T) {
	c := New(1, nil)
	c.Enable(FlagHotPaths)

	c.RecordHotPath(0, 0, 64)
	require.Equal(t, 1, len(c.DrainPendingSamples()))

	c.ResetHotPathEntryCount(64)
	c.RecordHotPath(0, 0, 64)
	require.Equal(t, 1, len(c.DrainPendingSamples()))
}
