package server

import (
	"github.com/chatrelay/chatrelay/internal/types"
)

// HistoryFilter is the per-user time-windowed view over a room's log:
// a user joining late must never see messages that predate their
// first-ever connection, even in a room much older than they are.
type HistoryFilter struct {
	dir      *RoomDirectory
	msgLog   *MessageLog
	registry *ConnectionRegistry
}

func NewHistoryFilter(dir *RoomDirectory, msgLog *MessageLog, registry *ConnectionRegistry) *HistoryFilter {
	return &HistoryFilter{
		dir:      dir,
		msgLog:   msgLog,
		registry: registry,
	}
}

// HistoryFor returns the last limit messages of the room's log, in
// arrival order, restricted to messages not older than the user's
// first-seen time. Access failures return an empty result, never an
// error (fail-closed). Entries with a zero timestamp are retained:
// an entry that cannot be situated in time must not be silently
// dropped from legitimate history.
func (h *HistoryFilter) HistoryFor(user, roomId string, limit int) []types.Message {
	if !h.dir.CanAccess(user, roomId) {
		return nil
	}

	firstSeen, ok := h.registry.FirstSeen(user)
	if !ok {
		// never-seen user: no message can predate a first connection
		// that hasn't happened, so the window is empty
		firstSeen = Now()
	}

	entries := h.msgLog.Tail(roomId, 0)
	filtered := entries[:0:0]
	for _, msg := range entries {
		if msg.Timestamp.IsZero() || !msg.Timestamp.Before(firstSeen) {
			filtered = append(filtered, msg)
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	return filtered
}
