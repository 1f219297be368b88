// Package sessions implements the per-room conversation Session: the
// provider-formatted message history the agent loop reads and compacts,
// one per room, compacted in place and never forked.
package sessions

import (
	"fmt"
	"strings"
)

// Key builds the canonical session key for a room. Sessions are strictly
// room-scoped, a deliberate simplification of a prior per-channel-peer
// keying scheme now that rooms.Manager owns the channel→room mapping and
// every envelope is normalized to a room before it reaches a session.
func Key(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// SubagentKey builds the session key for a subagent spawned inside a room.
// A subagent gets its own isolated session and never writes back into its
// parent room's session.
func SubagentKey(roomID, label string) string {
	return fmt.Sprintf("room:%s:subagent:%s", roomID, label)
}

// IsSubagentKey reports whether key names a subagent session.
func IsSubagentKey(key string) bool {
	return strings.Contains(key, ":subagent:")
}
