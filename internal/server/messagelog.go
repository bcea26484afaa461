package server

import (
	"sync"

	"github.com/chatrelay/chatrelay/internal/types"
)

// MessageLog is the append-only per-room message store. Entries are
// never mutated or reordered after append; per-room order is total
// and equals arrival order at the broadcast engine.
type MessageLog struct {
	mu   sync.RWMutex
	logs map[string][]types.Message
}

func NewMessageLog() *MessageLog {
	return &MessageLog{
		logs: map[string][]types.Message{
			// the public room's log exists from process start
			PublicRoomId: nil,
		},
	}
}

// Append adds the message to the room's log, creating the log lazily
// if absent.
func (l *MessageLog) Append(roomId string, msg types.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logs[roomId] = append(l.logs[roomId], msg)
}

// Tail returns a copy of the last n entries of the room's log in
// arrival order. n <= 0 returns the whole log.
func (l *MessageLog) Tail(roomId string, n int) []types.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.logs[roomId]
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}

	out := make([]types.Message, len(entries))
	copy(out, entries)

	return out
}

// Len returns the number of entries in the room's log.
func (l *MessageLog) Len(roomId string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.logs[roomId])
}
