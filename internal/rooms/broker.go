package rooms

import (
	"context"
	"log/slog"
	"sync"

	"github.com/parleyhq/parley/internal/bus"
)

// Handler processes one envelope already routed to a specific room. It is
// supplied by the agent package at wiring time so the rooms package never
// imports agent.
type Handler func(ctx context.Context, env bus.MessageEnvelope)

// Broker serializes all envelope processing for a single room through one
// goroutine and a FIFO queue, so concurrent inbound messages for the same
// room never race on Session, Memory, or RoomTask state. This
// is the core concurrency idiom generalized from a prior per-session
// worker-queue pattern in internal/gateway/consumer.go.
type Broker struct {
	roomID string
	handler Handler
	queue chan bus.MessageEnvelope
	cancel context.CancelFunc
	done chan struct{}
}

// newBroker starts a broker goroutine for roomID and returns it running.
func newBroker(roomID string, handler Handler, queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		roomID: roomID,
		handler: handler,
		queue: make(chan bus.MessageEnvelope, queueSize),
		cancel: cancel,
		done: make(chan struct{}),
	}
	go b.run(ctx)
	return b
}

func (b *Broker) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-b.queue:
			if !ok {
				return
			}
			b.handler(ctx, env)
		}
	}
}

// Enqueue submits an envelope for processing. It never blocks the caller on
// handler execution, only on queue backpressure.
func (b *Broker) Enqueue(env bus.MessageEnvelope) bool {
	select {
	case b.queue <- env:
		return true
	default:
		return false
	}
}

// Stop cancels the broker's goroutine and waits for the in-flight envelope,
// if any, to finish.
func (b *Broker) Stop() {
	b.cancel()
	<-b.done
}

// BrokerManager owns the pool of one Broker per active room, lazily spawning
// brokers as rooms receive their first envelope.
type BrokerManager struct {
	mu sync.Mutex
	brokers map[string]*Broker
	handler Handler
	queueSize int
	logger *slog.Logger
}

// NewBrokerManager builds a manager that dispatches every room's envelopes
// to the same handler, distinguished by env.RoomID.
func NewBrokerManager(handler Handler, queueSize int, logger *slog.Logger) *BrokerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrokerManager{
		brokers: make(map[string]*Broker),
		handler: handler,
		queueSize: queueSize,
		logger: logger,
	}
}

// Dispatch routes env to its room's broker, starting one if this is the
// room's first envelope.
func (m *BrokerManager) Dispatch(env bus.MessageEnvelope) {
	roomID := env.RoomID
	if roomID == "" {
		roomID = GeneralRoomID
	}
	b := m.brokerFor(roomID)
	if !b.Enqueue(env) {
		m.logger.Warn("room queue full, dropping envelope", "room_id", roomID, "channel", env.Channel)
	}
}

func (m *BrokerManager) brokerFor(roomID string) *Broker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.brokers[roomID]; ok {
		return b
	}
	b := newBroker(roomID, m.handler, m.queueSize)
	m.brokers[roomID] = b
	return b
}

// StopRoom halts a single room's broker, blocking any in-progress tasks in
// that room is the caller's responsibility (rooms.Manager.BlockAllInProgress
// handles that side of `/stop`).
func (m *BrokerManager) StopRoom(roomID string) {
	m.mu.Lock()
	b, ok := m.brokers[roomID]
	if ok {
		delete(m.brokers, roomID)
	}
	m.mu.Unlock()
	if ok {
		b.Stop()
	}
}

// StopAll halts every active room broker, used on process shutdown.
func (m *BrokerManager) StopAll() {
	m.mu.Lock()
	brokers := make([]*Broker, 0, len(m.brokers))
	for _, b := range m.brokers {
		brokers = append(brokers, b)
	}
	m.brokers = make(map[string]*Broker)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range brokers {
		wg.Add(1)
		go func(b *Broker) {
			defer wg.Done()
			b.Stop()
		}(b)
	}
	wg.Wait()
}

// ActiveRooms returns the IDs of rooms with a running broker.
func (m *BrokerManager) ActiveRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.brokers))
	for id := range m.brokers {
		ids = append(ids, id)
	}
	return ids
}
