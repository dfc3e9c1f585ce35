package board

import (
	"encoding/json"
	"fmt"
	"testing"
)

func makeOp(t *testing.T, userID int64, username, opType string) Operation {
	t.Helper()
	op := Stamp(Operation{
		Type:    opType,
		Payload: json.RawMessage(`{"points":[[0,0],[1,1]]}`),
	}, userID, username)
	if op.ID == "" {
		t.Fatal("stamp did not assign an id")
	}
	return op
}

func TestAppendPreservesOrder(t *testing.T) {
	state := &RoomState{}

	const n = 10
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		op := makeOp(t, 1, "alice", fmt.Sprintf("draw-%d", i))
		ids = append(ids, op.ID)
		state.Append(op)
	}

	log := state.Snapshot()
	if len(log) != n {
		t.Fatalf("log length = %d, want %d", len(log), n)
	}
	for i, op := range log {
		if op.ID != ids[i] {
			t.Errorf("log[%d].ID = %s, want %s (receipt order)", i, op.ID, ids[i])
		}
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	state := &RoomState{}

	op1 := makeOp(t, 1, "alice", "draw")
	op2 := makeOp(t, 1, "alice", "shape")
	state.Append(op1)
	state.Append(op2)

	log, ok := state.Undo()
	if !ok {
		t.Fatal("undo on non-empty log returned ok=false")
	}
	if len(log) != 1 || log[0].ID != op1.ID {
		t.Fatalf("after undo, log = %v, want [op1]", log)
	}
	if state.RedoLen() != 1 {
		t.Fatalf("redo length = %d, want 1", state.RedoLen())
	}

	log, ok = state.Redo()
	if !ok {
		t.Fatal("redo on non-empty redo stack returned ok=false")
	}
	if len(log) != 2 || log[0].ID != op1.ID || log[1].ID != op2.ID {
		t.Fatalf("after redo, log = %v, want [op1, op2]", log)
	}
	if state.RedoLen() != 0 {
		t.Fatalf("redo length = %d, want 0", state.RedoLen())
	}
}

func TestAppendClearsRedo(t *testing.T) {
	state := &RoomState{}

	state.Append(makeOp(t, 1, "alice", "draw"))
	state.Append(makeOp(t, 1, "alice", "draw"))
	if _, ok := state.Undo(); !ok {
		t.Fatal("undo failed")
	}
	if state.RedoLen() != 1 {
		t.Fatalf("redo length = %d, want 1", state.RedoLen())
	}

	// 새 작업은 redo 이력을 무효화한다
	state.Append(makeOp(t, 2, "bob", "text"))
	if state.RedoLen() != 0 {
		t.Fatalf("redo length after new append = %d, want 0", state.RedoLen())
	}
	if _, ok := state.Redo(); ok {
		t.Fatal("redo succeeded after its stack was invalidated")
	}
}

func TestUndoRedoEmptyNoOp(t *testing.T) {
	state := &RoomState{}

	if _, ok := state.Undo(); ok {
		t.Error("undo on empty log returned ok=true")
	}
	if _, ok := state.Redo(); ok {
		t.Error("redo on empty stack returned ok=true")
	}
	if len(state.Snapshot()) != 0 {
		t.Error("empty state has non-empty snapshot")
	}
}

func TestClearResetsBoth(t *testing.T) {
	state := &RoomState{}

	state.Append(makeOp(t, 1, "alice", "draw"))
	state.Append(makeOp(t, 1, "alice", "draw"))
	state.Undo()

	state.Clear()
	if len(state.Snapshot()) != 0 {
		t.Error("log not empty after clear")
	}
	if state.RedoLen() != 0 {
		t.Error("redo stack not empty after clear")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	state := &RoomState{}
	state.Append(makeOp(t, 1, "alice", "draw"))

	snap := state.Snapshot()
	snap[0].Username = "mallory"

	if state.Snapshot()[0].Username != "alice" {
		t.Error("mutating a snapshot changed registry state")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()

	if reg.Peek("m1") != nil {
		t.Fatal("peek created state")
	}

	s1 := reg.Get("m1")
	if s1 == nil {
		t.Fatal("get returned nil")
	}
	if reg.Get("m1") != s1 {
		t.Error("get returned a different state for the same room")
	}
	if reg.Get("m2") == s1 {
		t.Error("distinct rooms share state")
	}

	s1.Append(makeOp(t, 1, "alice", "draw"))
	reg.Drop("m1")
	if reg.Peek("m1") != nil {
		t.Error("state survived drop")
	}
	// drop 후 재생성된 상태는 비어 있어야 한다
	if len(reg.Get("m1").Snapshot()) != 0 {
		t.Error("recreated room state is not empty")
	}
}
