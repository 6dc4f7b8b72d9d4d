//go:build integration

package test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/user/termloom/internal/approval"
	"github.com/user/termloom/internal/backend"
	"github.com/user/termloom/internal/engine"
	"github.com/user/termloom/internal/session"
	"github.com/user/termloom/internal/store"
	"github.com/user/termloom/internal/types"
)

// newStack wires a full engine with the in-process loopback backend and an
// in-memory store, the same shape cmd_serve builds minus the HTTP layer.
func newStack(t *testing.T) (*engine.Engine, *backend.Local, *store.MemoryStore) {
	t.Helper()

	db := store.NewMemoryStore()
	recorder := approval.NewRecorder(t.TempDir())
	approvals := approval.NewService(recorder)
	registry := session.NewRegistry(nil)

	var eng *engine.Engine
	local := backend.NewLocal(func(ev *types.Event) { eng.Dispatch(ev) })
	local.RegisterExecutor(backend.NewShell())
	eng = engine.New(registry, approvals, local, db, 2)

	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	return eng, local, db
}

func settle(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if !eng.WaitIdle(5 * time.Second) {
		t.Fatal("engine did not settle")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTerminalSessionEndToEnd(t *testing.T) {
	eng, local, db := newStack(t)
	ctx := context.Background()

	dir := t.TempDir()
	sess, err := eng.OpenSession(ctx, dir, types.ModeTerminal)
	if err != nil {
		t.Fatal(err)
	}
	local.SetWorkingDirectory(sess.ID, dir)

	if err := eng.SubmitInput(ctx, sess.ID, "printf hello"); err != nil {
		t.Fatal(err)
	}
	settle(t, eng)

	st, ok := eng.Registry().Get(sess.ID)
	if !ok {
		t.Fatal("session not open")
	}
	snap := st.Snapshot()
	if len(snap.Timeline) != 1 || snap.Timeline[0].Type != types.EntryCommand {
		t.Fatalf("timeline = %+v", snap.Timeline)
	}
	block := snap.Timeline[0].Command
	if block.Command != "printf hello" {
		t.Errorf("command = %q", block.Command)
	}
	if block.Output != "hello" {
		t.Errorf("output = %q", block.Output)
	}
	if block.ExitCode == nil || *block.ExitCode != 0 {
		t.Errorf("exit code = %v", block.ExitCode)
	}

	// Both the input history and the finalized block survive in the store.
	history, err := db.ListHistory(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Command != "printf hello" {
		t.Fatalf("history = %+v", history)
	}
	entries, err := db.ListTimeline(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Command == nil {
		t.Fatalf("stored timeline = %+v", entries)
	}
}

func TestFailingCommandEndToEnd(t *testing.T) {
	eng, local, _ := newStack(t)
	ctx := context.Background()

	sess, err := eng.OpenSession(ctx, t.TempDir(), types.ModeTerminal)
	if err != nil {
		t.Fatal(err)
	}
	local.SetWorkingDirectory(sess.ID, sess.WorkingDirectory)

	if err := eng.SubmitInput(ctx, sess.ID, "exit 3"); err != nil {
		t.Fatal(err)
	}
	settle(t, eng)

	st, _ := eng.Registry().Get(sess.ID)
	snap := st.Snapshot()
	if len(snap.Timeline) != 1 {
		t.Fatalf("timeline = %+v", snap.Timeline)
	}
	if ec := snap.Timeline[0].Command.ExitCode; ec == nil || *ec != 3 {
		t.Errorf("exit code = %v", ec)
	}
}

func TestToolApprovalEndToEnd(t *testing.T) {
	eng, local, _ := newStack(t)
	ctx := context.Background()

	sess, err := eng.OpenSession(ctx, t.TempDir(), types.ModeAgent)
	if err != nil {
		t.Fatal(err)
	}

	args := json.RawMessage(`{"command":"printf hi"}`)
	reqID := local.AnnounceTool(sess.ID, "run_shell_cmd", args, nil)
	settle(t, eng)

	pending := eng.Approvals().Pending(sess.ID)
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}

	if err := eng.Approve(sess.ID, reqID, false); err != nil {
		t.Fatal(err)
	}
	settle(t, eng)

	waitFor(t, func() bool {
		st, _ := eng.Registry().Get(sess.ID)
		snap := st.Snapshot()
		for _, b := range snap.Streaming {
			if b.Type == types.BlockTool && b.Tool.Status == types.ToolCompleted {
				return strings.Contains(string(b.Tool.Result), "hi")
			}
		}
		return false
	})

	if got := eng.Approvals().Pending(sess.ID); len(got) != 0 {
		t.Fatalf("pending after approve = %d", len(got))
	}
}

func TestToolDenialEndToEnd(t *testing.T) {
	eng, local, _ := newStack(t)
	ctx := context.Background()

	sess, err := eng.OpenSession(ctx, t.TempDir(), types.ModeAgent)
	if err != nil {
		t.Fatal(err)
	}

	args := json.RawMessage(`{"command":"rm -rf /tmp/nope"}`)
	reqID := local.AnnounceTool(sess.ID, "run_shell_cmd", args, nil)
	settle(t, eng)

	if err := eng.Deny(sess.ID, reqID); err != nil {
		t.Fatal(err)
	}
	settle(t, eng)

	st, _ := eng.Registry().Get(sess.ID)
	snap := st.Snapshot()
	var denied bool
	for _, b := range snap.Streaming {
		if b.Type == types.BlockTool && b.Tool.Status == types.ToolDenied {
			denied = true
		}
	}
	if !denied {
		t.Fatalf("streaming = %+v", snap.Streaming)
	}
}
