// Package routines implements RoutineService: per-bot scheduled "heartbeat"
// checks that run through the same room turn machinery as a normal chat
// message. Grounded on the gronx-based tick loop in
// leonardcser-localagent's pkg/cron, adapted from a flat job list to a
// per-bot schedule whose due ticks are handed to the room broker instead
// of run inline, so a tick can never race a live user turn in the same
// room.
package routines

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/rooms"
)

// mistakeWindow is how many recent ticks a routine's success rate is
// computed over.
const mistakeWindow = 10

type job struct {
	bot string
	name string
	cronExpr string
	roomID string
	prompt string
	enabled bool
	nextRun time.Time
	history []bool
}

func (j *job) recordResult(ok bool) {
	j.history = append(j.history, ok)
	if len(j.history) > mistakeWindow {
		j.history = j.history[len(j.history)-mistakeWindow:]
	}
}

func (j *job) successRate() float64 {
	if len(j.history) == 0 {
		return 1
	}
	n := 0
	for _, ok := range j.history {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(j.history))
}

func jobKey(bot, name string) string { return bot + "/" + name }

// Service implements both tools.RoutineScheduler (for the routine tool) and
// agent.RoutineObserver (so the loop can report each tick's outcome back
// here without routines importing agent).
type Service struct {
	Brokers *rooms.BrokerManager
	Rooms *rooms.Manager
	Memory *memory.Facade
	Logger *slog.Logger

	mu sync.Mutex
	jobs map[string]*job
	running bool
	stop chan struct{}
}

// New builds a Service that dispatches due ticks through brokers as
// synthetic system envelopes.
func New(brokers *rooms.BrokerManager, roomsManager *rooms.Manager, mem *memory.Facade, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Brokers: brokers,
		Rooms: roomsManager,
		Memory: mem,
		Logger: logger,
		jobs: make(map[string]*job),
	}
}

// Start begins the once-a-second due-job check.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()
	go s.loop()
}

// Stop halts the tick loop. Ticks already handed to a room broker run to
// completion on their own.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
}

func (s *Service) loop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkDue()
		}
	}
}

func (s *Service) checkDue() {
	now := time.Now()
	var due []*job

	s.mu.Lock()
	for _, j := range s.jobs {
		if j.enabled && !j.nextRun.IsZero() && !j.nextRun.After(now) {
			due = append(due, j)
			j.nextRun = s.computeNext(j, now)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.dispatch(j, "")
	}
}

func (s *Service) computeNext(j *job, after time.Time) time.Time {
	next, err := gronx.NextTickAfter(j.cronExpr, after, false)
	if err != nil {
		s.Logger.Warn("routine: bad cron expression, disabling", "bot", j.bot, "name", j.name, "expr", j.cronExpr, "error", err)
		j.enabled = false
		return time.Time{}
	}
	return next
}

// Schedule implements tools.RoutineScheduler, registering a per-bot job
// record keyed by bot and routine name.
func (s *Service) Schedule(bot, name, cronExpr, roomID, prompt string) error {
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("routines: invalid cron expression %q", cronExpr)
	}
	next, err := gronx.NextTickAfter(cronExpr, time.Now(), false)
	if err != nil {
		return fmt.Errorf("routines: compute next run: %w", err)
	}
	s.mu.Lock()
	s.jobs[jobKey(bot, name)] = &job{
		bot: bot, name: name, cronExpr: cronExpr, roomID: roomID, prompt: prompt,
		enabled: true, nextRun: next,
	}
	s.mu.Unlock()
	return nil
}

// Cancel disables a routine without deleting its record. There is no
// re-enable: scheduling the same name again replaces the record.
func (s *Service) Cancel(bot, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobKey(bot, name)]
	if !ok {
		return fmt.Errorf("routines: no routine %s/%s", bot, name)
	}
	j.enabled = false
	return nil
}

// TriggerNow bypasses the schedule for a manual, reason-tagged run.
func (s *Service) TriggerNow(bot, name, reason string) error {
	s.mu.Lock()
	j, ok := s.jobs[jobKey(bot, name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("routines: no routine %s/%s", bot, name)
	}
	s.dispatch(j, reason)
	return nil
}

// dispatch hands one due tick to its room's broker as a synthetic system
// envelope, so it runs on the same goroutine — and behind the same FIFO
// queue — as every user message in that room.
func (s *Service) dispatch(j *job, reason string) {
	room, ok := s.Rooms.Get(j.roomID)
	if !ok {
		s.Logger.Warn("routine: room not found, skipping tick", "bot", j.bot, "name", j.name, "room_id", j.roomID)
		return
	}

	content := j.prompt
	if reason != "" {
		content = content + "\n\n(Manually triggered: " + reason + ")"
	}

	originChannel, originChatID := originForRoom(room)

	s.Brokers.Dispatch(bus.MessageEnvelope{
		Channel: "system",
		ChatID: originChannel + ":" + originChatID,
		RoomID: room.ID,
		SenderID: j.bot,
		SenderRole: bus.RoleSystem,
		Content: content,
		Metadata: map[string]any{"routine_bot": j.bot, "routine_name": j.name},
	})
}

// originForRoom resolves the (channel, chat_id) a routine tick's reply
// should be routed to: the room's first known channel mapping, or a cli
// fallback for rooms created without one.
func originForRoom(room *rooms.Room) (channel, chatID string) {
	if len(room.ChannelMappings) > 0 {
		cm := room.ChannelMappings[0]
		return cm.Channel, cm.ChatID
	}
	return "cli", room.ID
}

// RecordTickResult implements agent.RoutineObserver. It is called from
// inside the room broker's goroutine once a routine tick's turn completes,
// and appends a mistake record to the room's memory if the routine's
// recent success rate has dropped.
func (s *Service) RecordTickResult(bot, name string, success bool) {
	s.mu.Lock()
	j, ok := s.jobs[jobKey(bot, name)]
	if ok {
		j.recordResult(success)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	rate := j.successRate()
	if len(j.history) < 3 || rate >= 0.5 {
		return
	}
	room, ok := s.Rooms.Get(j.roomID)
	if !ok {
		return
	}
	s.Memory.RecordLearning(room, map[string]any{
		"kind": "mistake",
		"bot": bot,
		"routine": name,
		"success_rate": rate,
	})
}
