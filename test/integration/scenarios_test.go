// Package integration runs the Distributed Process Ledger end to end
// against real OS processes, the way cuemby-warren/test/e2e drives a real
// cluster instead of mocking it. Each scenario here corresponds to one of
// SPEC_FULL.md §5's worked cleanup scenarios.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomledger/dpl/internal/testharness"
	"github.com/tomledger/dpl/pkg/httpapi"
)

var dplBin string

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "dpl-bin-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, "integration: tempdir:", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmp)

	dplBin = filepath.Join(tmp, "dpl")
	build := exec.Command("go", "build", "-o", dplBin, "github.com/tomledger/dpl/cmd/dpl")
	build.Stdout = os.Stderr
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "integration: build dpl:", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// runDPL runs one dpl invocation against baseDir and returns its parsed
// JSON stdout (for the subcommands that print one).
func runDPL(t *testing.T, baseDir string, args ...string) map[string]any {
	t.Helper()
	fullArgs := append([]string{"--base-dir", baseDir}, args...)
	cmd := exec.Command(dplBin, fullArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	require.NoErrorf(t, err, "dpl %v failed: %s", args, stderr.String())

	if stdout.Len() == 0 {
		return nil
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out), "parse dpl output: %s", stdout.String())
	return out
}

func shortStalenessConfig(t *testing.T, baseDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dpl.yaml")
	content := fmt.Sprintf(`
store:
  basePath: %s
heartbeat:
  interval: 100ms
  jitter: 10ms
  staleness: 300ms
`, baseDir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestUnsupervisedReclaimAfterCrash exercises SPEC_FULL.md §5's Scenario B:
// a participant joins, pushes a call frame, then is killed mid-loop before
// it can heartbeat again. A second participant's heartbeat tick, run once
// the staleness threshold has passed, must observe the frame go stale and
// reclaim it (cleanup rule 2/4) without help from the dead process.
func TestUnsupervisedReclaimAfterCrash(t *testing.T) {
	baseDir := t.TempDir()
	cfgPath := shortStalenessConfig(t, baseDir)

	created := runDPL(t, baseDir, "--config", cfgPath, "create", "--participant-id", "initiator", "--description", "reclaim test")
	opID := created["operationId"].(string)

	joined := runDPL(t, baseDir, "--config", cfgPath, "join", opID, "--participant-id", "worker")
	workerSession := int(joined["sessionId"].(float64))

	started := runDPL(t, baseDir, "--config", cfgPath, "call-start",
		"--operation-id", opID, "--session-id", fmt.Sprintf("%d", workerSession),
		"--participant-id", "worker", "--initiator=false", "--description", "doomed work")
	callID := started["callId"].(string)
	require.NotEmpty(t, callID)

	// Simulate the worker crashing mid-loop: it heartbeats once, then is
	// SIGKILLed before its next tick, leaving lastSeen stale forever.
	loop := testharness.NewProcess("sh")
	loop.Args = []string{"-c", fmt.Sprintf(
		`%s --base-dir %s --config %s heartbeat --operation-id %s --session-id %d --participant-id worker --initiator=false; sleep 30`,
		dplBin, baseDir, cfgPath, opID, workerSession,
	)}
	require.NoError(t, loop.Start())
	require.NoError(t, loop.WaitForLog("FrameCount", 5*time.Second))
	require.NoError(t, loop.Kill())

	// Wait past the staleness threshold, then let the initiator's own
	// heartbeat tick run the cleanup scan.
	time.Sleep(400 * time.Millisecond)
	runDPL(t, baseDir, "--config", cfgPath, "heartbeat",
		"--operation-id", opID, "--session-id", "1",
		"--participant-id", "initiator", "--initiator=true")

	status := runDPL(t, baseDir, "--config", cfgPath, "status", opID)
	frames, _ := status["callFrames"].([]any)
	for _, f := range frames {
		frame := f.(map[string]any)
		require.NotEqual(t, callID, frame["callId"], "crashed frame should have been reclaimed")
	}
}

// TestGracefulShutdownTearsDownSessions exercises SPEC_FULL.md §5's
// Scenario F: SIGINT mid-work against a long-running process (here,
// `dpl serve`) must drain in-flight sessions via the signal bridge and
// exit cleanly, leaving the operation record readable with its initiator
// row in place.
func TestGracefulShutdownTearsDownSessions(t *testing.T) {
	baseDir := t.TempDir()
	cfgPath := shortStalenessConfig(t, baseDir)

	srv := testharness.NewProcess(dplBin)
	srv.Args = []string{"--config", cfgPath, "serve"}
	require.NoError(t, srv.Start())
	require.NoError(t, srv.WaitForLog("Press Ctrl+C to stop", 5*time.Second))

	client := httpapi.NewClient("http://127.0.0.1:19880")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	createResp, err := client.CreateOperation(ctx, httpapi.CreateOperationRequest{
		ParticipantID: "initiator", Description: "graceful shutdown test",
	})
	require.NoError(t, err)
	require.NotEmpty(t, createResp.OperationID)

	require.NoError(t, srv.Interrupt())
	require.False(t, srv.IsRunning(), "serve process should have exited after SIGINT")

	// The record itself must survive the shutdown untouched: graceful
	// shutdown tears down in-memory sessions, it does not mutate the
	// operation document beyond what Leave already does.
	status := runDPL(t, baseDir, "--config", cfgPath, "status", createResp.OperationID)
	require.Equal(t, "running", status["status"])
	participants, _ := status["participants"].([]any)
	require.Len(t, participants, 1)
	require.Equal(t, "initiator", participants[0].(map[string]any)["participantId"])
}
