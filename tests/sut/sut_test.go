package sut

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIStartup(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}

	// 1. Build the binary
	cmdBuild := exec.Command("go", "build", "-o", "cxrgraph-sut", "./cmd/cxrgraph")
	cmdBuild.Dir = "../../"
	out, err := cmdBuild.CombinedOutput()
	require.NoError(t, err, "failed to build CLI binary: %s", out)
	defer func() { _ = os.Remove("../../cxrgraph-sut") }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Help lists every command without needing any backend
	help, err := exec.CommandContext(ctx, "../../cxrgraph-sut", "--help").CombinedOutput()
	require.NoError(t, err)
	for _, name := range []string{"ingest", "ask", "reset", "serve", "runs"} {
		assert.Contains(t, string(help), name)
	}

	// 3. An empty ledger reports no runs
	runs := exec.CommandContext(ctx, "../../cxrgraph-sut", "runs")
	runs.Env = append(os.Environ(),
		"CXR_USE_LOCAL_ONLY_LLM=true",
		"CXR_GRAPH_BACKEND=sqlite",
		"CXR_LEDGER_PATH="+t.TempDir()+"/ledger.db",
	)
	got, err := runs.CombinedOutput()
	require.NoError(t, err, string(got))
	assert.Contains(t, string(got), "no ingest runs recorded")
}
