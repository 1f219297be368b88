package rooms

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// shortIDAlphabet is the 32-symbol alphabet for room and task IDs:
// lowercase alphanumeric with the ambiguous characters 0/o and 1/l removed.
const shortIDAlphabet = "23456789abcdefghijkmnpqrstuvwxyz"

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// NewShortID returns a fresh ID in the same 8-character, 32-symbol alphabet
// used for room and task IDs, exported so tools that create RoomTasks
// outside the Manager (e.g. the room_task tool) use an identical ID scheme
// instead of inventing their own.
func NewShortID() string {
	return newShortID()
}

func newShortID() string {
	b := make([]byte, 8)
	rand.Read(b)
	out := make([]byte, 8)
	for i, v := range b {
		out[i] = shortIDAlphabet[int(v)%len(shortIDAlphabet)]
	}
	return string(out)
}

func slugify(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

// Manager is the process-wide, file-backed room store. It exclusively owns
// rooms and the channel↔room mapping table. Grounded structurally on a
// prior sessions.Manager (atomic temp-file-then-rename persistence)
// generalized from sessions to rooms, and on a prior handoff-route table
// for the channel mapping shape.
type Manager struct {
	mu sync.RWMutex
	dir string
	rooms map[string]*Room
	mappings map[string]string // "channel:chat_id" -> room_id
}

// NewManager loads every room JSON file under dir (creating dir if needed)
// and ensures the `general` room exists.
func NewManager(dir string, leaderName string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rooms: create room directory: %w", err)
	}
	m := &Manager{
		dir: dir,
		rooms: make(map[string]*Room),
		mappings: make(map[string]string),
	}
	if err := m.loadAll(); err != nil {
		return nil, err
	}
	if err := m.loadMappings(); err != nil {
		return nil, err
	}
	if _, err := m.GetOrCreateDefault(leaderName); err != nil {
		return nil, err
	}
	return m, nil
}

// GetOrCreateDefault ensures the `general` room exists.
func (m *Manager) GetOrCreateDefault(leaderName string) (*Room, error) {
	m.mu.Lock()
	if r, ok := m.rooms[GeneralRoomID]; ok {
		m.mu.Unlock()
		return r, nil
	}
	m.mu.Unlock()

	participants := []string{leaderName}
	if leaderName == "" {
		participants = []string{"leader"}
	}
	room := &Room{
		ID: GeneralRoomID,
		Name: "General",
		Type: TypeOpen,
		Owner: "user",
		Participants: participants,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.mu.Lock()
	m.rooms[room.ID] = room
	m.mu.Unlock()
	return room, m.save(room)
}

// GenerateDMRoomID derives a stable room ID for a direct-message pair,
// independent of argument order (testable property:
// generate_dm_room_id(a, b) == generate_dm_room_id(b, a)).
func GenerateDMRoomID(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return "dm-" + slugify(names[0]) + "-" + slugify(names[1])
}

// GetOrCreateDM returns the deterministic direct-message room between two
// participants, creating it on first contact.
func (m *Manager) GetOrCreateDM(a, b string) (*Room, error) {
	id := GenerateDMRoomID(a, b)
	if r, ok := m.GetRoom(id); ok {
		return r, nil
	}
	room := &Room{
		ID: id,
		Name: fmt.Sprintf("DM: %s, %s", a, b),
		Type: TypeDirect,
		Owner: "user",
		Participants: []string{a, b},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.mu.Lock()
	m.rooms[id] = room
	m.mu.Unlock()
	return room, m.save(room)
}

// CreateRoom persists a new room of roomType (project when empty). With
// useShortID, or when name yields an empty slug, the room ID is
// `<short_id>-<slug>`; otherwise it is the plain slug.
func (m *Manager) CreateRoom(name string, roomType RoomType, participants []string, useShortID bool) (*Room, error) {
	if roomType == "" {
		roomType = TypeProject
	}
	id := slugify(name)
	if useShortID || id == "" {
		for attempts := 0; attempts < 20; attempts++ {
			candidate := newShortID() + "-" + slugify(name)
			m.mu.RLock()
			_, exists := m.rooms[candidate]
			m.mu.RUnlock()
			if !exists {
				id = candidate
				break
			}
		}
	}
	if len(participants) == 0 {
		participants = []string{"leader"}
	}
	room := &Room{
		ID: id,
		Name: name,
		Type: roomType,
		Owner: "user",
		Participants: participants,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.mu.Lock()
	m.rooms[id] = room
	m.mu.Unlock()
	return room, m.save(room)
}

// GetRoom looks up a room by exact ID.
func (m *Manager) GetRoom(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

// Get is an alias of GetRoom, satisfying the narrower RoomAccessor
// interfaces that tools and the agent loop depend on instead of the full
// Manager.
func (m *Manager) Get(roomID string) (*Room, bool) {
	return m.GetRoom(roomID)
}

// Save persists room, replacing the cached copy, satisfying the same
// narrower RoomAccessor interfaces as Get.
func (m *Manager) Save(room *Room) error {
	m.mu.Lock()
	m.rooms[room.ID] = room
	m.mu.Unlock()
	return m.save(room)
}

// ListRooms returns every known room.
func (m *Manager) ListRooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// InviteBot adds a bot to a room's participants and persists the change.
func (m *Manager) InviteBot(roomID, botName string) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("rooms: unknown room %q", roomID)
	}
	r.AddParticipant(botName)
	m.mu.Unlock()
	return m.save(r)
}

// RemoveBot removes a bot from a room, refusing to remove the last
// participant.
func (m *Manager) RemoveBot(roomID, botName string) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("rooms: unknown room %q", roomID)
	}
	removed := r.RemoveParticipant(botName)
	m.mu.Unlock()
	if !removed {
		return fmt.Errorf("rooms: cannot remove last participant %q from room %q", botName, roomID)
	}
	return m.save(r)
}

// GetRoomForChannel resolves a (channel, chat_id) pair to its mapped room,
// if any.
func (m *Manager) GetRoomForChannel(channel, chatID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, ok := m.mappings[channel+":"+chatID]
	return roomID, ok
}

// JoinChannelToRoom maps (channel, chat_id) to roomID and persists the map,
// and records the mapping on the room itself so BotInvoker can resolve a
// room's origin channel for its completion announcement.
func (m *Manager) JoinChannelToRoom(channel, chatID, roomID string) error {
	m.mu.Lock()
	m.mappings[channel+":"+chatID] = roomID
	m.mu.Unlock()
	if err := m.saveMappings(); err != nil {
		return err
	}
	if room, ok := m.GetRoom(roomID); ok {
		for _, cm := range room.ChannelMappings {
			if cm.Channel == channel && cm.ChatID == chatID {
				return nil
			}
		}
		room.ChannelMappings = append(room.ChannelMappings, ChannelMapping{Channel: channel, ChatID: chatID, RoomID: roomID})
		return m.save(room)
	}
	return nil
}

// LeaveChannelFromRoom removes a (channel, chat_id) mapping.
func (m *Manager) LeaveChannelFromRoom(channel, chatID string) error {
	m.mu.Lock()
	delete(m.mappings, channel+":"+chatID)
	m.mu.Unlock()
	return m.saveMappings()
}

// AutoJoinToGeneral maps (channel, chat_id) to the general room if no
// mapping exists yet.
func (m *Manager) AutoJoinToGeneral(channel, chatID string) (string, error) {
	if roomID, ok := m.GetRoomForChannel(channel, chatID); ok {
		return roomID, nil
	}
	if err := m.JoinChannelToRoom(channel, chatID, GeneralRoomID); err != nil {
		return "", err
	}
	return GeneralRoomID, nil
}

// AddTask appends a new task to a room.
func (m *Manager) AddTask(roomID, title, owner, priority string) (*RoomTask, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("rooms: unknown room %q", roomID)
	}
	task := &RoomTask{
		ID: newShortID(),
		Title: title,
		Owner: owner,
		Status: TaskTodo,
		Priority: priority,
		Handoffs: []Handoff{},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.Tasks = append(r.Tasks, task)
	r.UpdatedAt = time.Now()
	m.mu.Unlock()
	return task, m.save(r)
}

// HandoffTask reassigns a task's owner, appending a handoff record.
func (m *Manager) HandoffTask(roomID, taskID, newOwner, reason string) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("rooms: unknown room %q", roomID)
	}
	task := r.FindTask(taskID)
	if task == nil {
		m.mu.Unlock()
		return fmt.Errorf("rooms: unknown task %q in room %q", taskID, roomID)
	}
	task.SetOwner(newOwner, reason)
	r.UpdatedAt = time.Now()
	m.mu.Unlock()
	return m.save(r)
}

// SetTaskStatus updates a task's status in place.
func (m *Manager) SetTaskStatus(roomID, taskID string, status TaskStatus) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("rooms: unknown room %q", roomID)
	}
	task := r.FindTask(taskID)
	if task == nil {
		m.mu.Unlock()
		return fmt.Errorf("rooms: unknown task %q in room %q", taskID, roomID)
	}
	task.Status = status
	task.UpdatedAt = time.Now()
	m.mu.Unlock()
	return m.save(r)
}

// BlockAllInProgress marks every in-progress task in a room as blocked,
// returning the count changed — used by /stop.
func (m *Manager) BlockAllInProgress(roomID string) (int, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("rooms: unknown room %q", roomID)
	}
	count := 0
	for _, t := range r.Tasks {
		if t.Status == TaskInProgress {
			t.Status = TaskBlocked
			t.UpdatedAt = time.Now()
			count++
		}
	}
	m.mu.Unlock()
	if count > 0 {
		return count, m.save(r)
	}
	return 0, nil
}

// AppendHistory records one logical turn to the room's own history log
// (distinct from the provider-formatted Session).
func (m *Manager) AppendHistory(roomID, sender, content string) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("rooms: unknown room %q", roomID)
	}
	r.History = append(r.History, HistoryEntry{Sender: sender, Content: content, Timestamp: time.Now()})
	r.UpdatedAt = time.Now()
	m.mu.Unlock()
	return m.save(r)
}

func (m *Manager) save(r *Room) error {
	data, err := json.MarshalIndent(r, "", " ")
	if err != nil {
		return err
	}
	path := filepath.Join(m.dir, r.ID+".json")
	tmp, err := os.CreateTemp(m.dir, "room-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	tmp.Close()
	return os.Rename(tmpPath, path)
}

func (m *Manager) loadAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || e.Name() == "channel_mappings.json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var r Room
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		m.rooms[r.ID] = &r
	}
	return nil
}

func (m *Manager) mappingsPath() string {
	return filepath.Join(m.dir, "channel_mappings.json")
}

func (m *Manager) loadMappings() error {
	data, err := os.ReadFile(m.mappingsPath())
	if err != nil {
		return nil
	}
	return json.Unmarshal(data, &m.mappings)
}

func (m *Manager) saveMappings() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.mappings, "", " ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(m.dir, "mappings-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	tmp.Close()
	return os.Rename(tmpPath, m.mappingsPath())
}
