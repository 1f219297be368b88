package rooms

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/bus"
)

func TestBrokerManagerDispatchPreservesFIFOPerRoom(t *testing.T) {
	var mu sync.Mutex
	var order []string

	mgr := NewBrokerManager(func(ctx context.Context, env bus.MessageEnvelope) {
		mu.Lock()
		order = append(order, env.Content)
		mu.Unlock()
	}, 16, nil)
	t.Cleanup(mgr.StopAll)

	for i := 0; i < 20; i++ {
		mgr.Dispatch(bus.MessageEnvelope{RoomID: "room-a", Content: itoaFixed(i)})
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 20 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all envelopes to process, got %d/20", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != itoaFixed(i) {
			t.Fatalf("FIFO order violated at index %d: got %s", i, v)
		}
	}
}

func TestBrokerManagerSeparateRoomsGetSeparateBrokers(t *testing.T) {
	mgr := NewBrokerManager(func(ctx context.Context, env bus.MessageEnvelope) {}, 8, nil)
	t.Cleanup(mgr.StopAll)

	mgr.Dispatch(bus.MessageEnvelope{RoomID: "room-a"})
	mgr.Dispatch(bus.MessageEnvelope{RoomID: "room-b"})

	deadline := time.After(time.Second)
	for {
		if len(mgr.ActiveRooms()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 active rooms, got %v", mgr.ActiveRooms())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBrokerManagerDispatchDefaultsEmptyRoomIDToGeneral(t *testing.T) {
	mgr := NewBrokerManager(func(ctx context.Context, env bus.MessageEnvelope) {}, 8, nil)
	t.Cleanup(mgr.StopAll)

	mgr.Dispatch(bus.MessageEnvelope{})

	deadline := time.After(time.Second)
	for {
		rooms := mgr.ActiveRooms()
		if len(rooms) == 1 && rooms[0] == GeneralRoomID {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected general room to be active, got %v", rooms)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBrokerStopWaitsForInFlightHandler(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	mgr := NewBrokerManager(func(ctx context.Context, env bus.MessageEnvelope) {
		close(started)
		<-release
	}, 8, nil)

	mgr.Dispatch(bus.MessageEnvelope{RoomID: "room-a"})
	<-started

	stopped := make(chan struct{})
	go func() {
		mgr.StopRoom("room-a")
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatalf("StopRoom returned before the in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("StopRoom did not return after handler finished")
	}
}

func itoaFixed(i int) string {
	digits := "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return string(digits[i/10]) + string(digits[i%10])
}
