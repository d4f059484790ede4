package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/testing/require"
)

func TestDoMainPersistsToDiskCacheDir(t *testing.T) {
	if codegen.HostTarget() == codegen.TargetUnsupported {
		t.Skip("no native codegen target on this host architecture")
	}
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"-limit=8", "-hot=1", "-n=64", "-diskcache=" + dir}, &stdout, &stderr)

	require.Equal(t, 0, code)
	require.Equal(t, "", stderr.String())
}

func TestDoMainPrintsProfilingExportJSON(t *testing.T) {
	if codegen.HostTarget() == codegen.TargetUnsupported {
		t.Skip("no native codegen target on this host architecture")
	}
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"-limit=8", "-hot=1", "-n=64"}, &stdout, &stderr)

	require.Equal(t, 0, code)
	require.Equal(t, "", stderr.String())
	out := stdout.String()
	require.True(t, strings.Contains(out, `"totalInstructions"`))
	require.True(t, strings.Contains(out, `"hotPaths"`))
	require.True(t, strings.HasPrefix(out, "{"))
	require.True(t, strings.HasSuffix(out, "}"))
}

func TestDoMainRejectsNonPositiveIterations(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"-n=0"}, &stdout, &stderr)
	require.Equal(t, 2, code)
}

func TestDoMainRunsWithJITDisabled(t *testing.T) {
	if codegen.HostTarget() == codegen.TargetUnsupported {
		t.Skip("no native codegen target on this host architecture")
	}
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"-jit=false", "-limit=4", "-n=16"}, &stdout, &stderr)

	require.Equal(t, 0, code)
	require.True(t, strings.Contains(stdout.String(), `"totalInstructions"`))
}
