package rooms

import (
	"testing"
)

func TestNewManagerCreatesGeneralRoom(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "leader")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	room, ok := m.GetRoom(GeneralRoomID)
	if !ok {
		t.Fatalf("expected general room to exist")
	}
	if !room.HasParticipant("leader") {
		t.Fatalf("expected leader to be a participant of general")
	}
}

func TestManagerPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "leader")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	room, err := m.CreateRoom("Project X", TypeProject, []string{"leader", "scout"}, false)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := m.AddTask(room.ID, "ship the thing", "scout", "high"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	reloaded, err := NewManager(dir, "leader")
	if err != nil {
		t.Fatalf("NewManager (reload): %v", err)
	}
	got, ok := reloaded.GetRoom(room.ID)
	if !ok {
		t.Fatalf("expected room %q to survive reload", room.ID)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].Title != "ship the thing" {
		t.Fatalf("expected task to survive reload, got %+v", got.Tasks)
	}
}

func TestGenerateDMRoomIDIsOrderIndependent(t *testing.T) {
	a := GenerateDMRoomID("alice", "bob")
	b := GenerateDMRoomID("bob", "alice")
	if a != b {
		t.Fatalf("expected order-independent DM room ID, got %q vs %q", a, b)
	}
}

func TestAutoJoinToGeneralMapsUnmappedChannel(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "leader")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	roomID, err := m.AutoJoinToGeneral("cli", "local")
	if err != nil {
		t.Fatalf("AutoJoinToGeneral: %v", err)
	}
	if roomID != GeneralRoomID {
		t.Fatalf("expected general room, got %q", roomID)
	}

	again, err := m.AutoJoinToGeneral("cli", "local")
	if err != nil {
		t.Fatalf("AutoJoinToGeneral (second call): %v", err)
	}
	if again != GeneralRoomID {
		t.Fatalf("expected idempotent mapping to general room, got %q", again)
	}
}

func TestHandoffTaskReassignsOwner(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "leader")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	room, err := m.CreateRoom("Project Y", TypeProject, []string{"leader"}, false)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	task, err := m.AddTask(room.ID, "write docs", "leader", "low")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if err := m.HandoffTask(room.ID, task.ID, "scout", "better fit"); err != nil {
		t.Fatalf("HandoffTask: %v", err)
	}

	got, _ := m.GetRoom(room.ID)
	found := got.FindTask(task.ID)
	if found == nil || found.Owner != "scout" {
		t.Fatalf("expected task owner to be reassigned to scout, got %+v", found)
	}
	if len(found.Handoffs) != 1 {
		t.Fatalf("expected one handoff record, got %d", len(found.Handoffs))
	}
}
