package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parleyhq/parley/internal/rooms"
)

// RoomStore persists Room/RoomTask/ChannelMapping state as JSONB columns,
// mirroring the JSON-per-room shape of the file store so the two
// implementations stay interchangeable.
type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

func (s *RoomStore) Get(roomID string) (*rooms.Room, bool) {
	var data []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT data FROM rooms WHERE id = $1`, roomID,
	).Scan(&data)
	if err != nil {
		return nil, false
	}
	var room rooms.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, false
	}
	return &room, true
}

func (s *RoomStore) Save(room *rooms.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("pg: marshal room %s: %w", room.ID, err)
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO rooms (id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, room.ID, data)
	if err != nil {
		return fmt.Errorf("pg: save room %s: %w", room.ID, err)
	}
	return nil
}

func (s *RoomStore) Delete(roomID string) error {
	_, err := s.pool.Exec(context.Background(), `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("pg: delete room %s: %w", roomID, err)
	}
	return nil
}

func (s *RoomStore) All() ([]*rooms.Room, error) {
	rows, err := s.pool.Query(context.Background(), `SELECT data FROM rooms`)
	if err != nil {
		return nil, fmt.Errorf("pg: list rooms: %w", err)
	}
	defer rows.Close()

	var out []*rooms.Room
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var room rooms.Room
		if err := json.Unmarshal(data, &room); err != nil {
			continue
		}
		out = append(out, &room)
	}
	return out, rows.Err()
}

func (s *RoomStore) ResolveChannelMapping(channel, chatID string) (string, bool) {
	var roomID string
	err := s.pool.QueryRow(context.Background(),
		`SELECT room_id FROM channel_mappings WHERE channel = $1 AND chat_id = $2`, channel, chatID,
	).Scan(&roomID)
	if err != nil {
		if err != pgx.ErrNoRows {
			return "", false
		}
		return "", false
	}
	return roomID, true
}

func (s *RoomStore) SetChannelMapping(channel, chatID, roomID string) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO channel_mappings (channel, chat_id, room_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel, chat_id) DO UPDATE SET room_id = EXCLUDED.room_id
	`, channel, chatID, roomID)
	if err != nil {
		return fmt.Errorf("pg: set channel mapping: %w", err)
	}
	return nil
}
