package server

import (
	"log"
	"sync"

	"github.com/chatrelay/chatrelay/internal/stats"
	"github.com/chatrelay/chatrelay/internal/types"
)

// Broadcaster fans messages out to a room's connected members. Append
// and fan-out are serialized per room so delivery order within a room
// equals Broadcast invocation order; broadcasts to different rooms do
// not serialize against each other.
//
// The broadcaster never mutates the registry or directory itself:
// recipients whose delivery fails are reported on the unreachable
// channel and cleaned up by a single consumer.
type Broadcaster struct {
	log         *log.Logger
	dir         *RoomDirectory
	msgLog      *MessageLog
	registry    *ConnectionRegistry
	stats       stats.StatsProvider
	unreachable chan UnreachableReport

	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

func NewBroadcaster(logger *log.Logger, dir *RoomDirectory, msgLog *MessageLog,
	registry *ConnectionRegistry, statsProvider stats.StatsProvider) *Broadcaster {
	return &Broadcaster{
		log:         logger,
		dir:         dir,
		msgLog:      msgLog,
		registry:    registry,
		stats:       statsProvider,
		unreachable: make(chan UnreachableReport, 256),
		roomLocks:   make(map[string]*sync.Mutex),
	}
}

// UnreachableReport names a recipient whose delivery failed and the
// handle the failure was observed on. The handle pins the report to
// one connection: a reconnect registers a new handle, and a stale
// report for the old one must not touch it.
type UnreachableReport struct {
	User   string
	Handle SendHandle
}

// Unreachable reports recipients whose delivery failed. Each reported
// user must be treated as fully disconnected by the consumer, provided
// the reported handle is still the user's current one.
func (b *Broadcaster) Unreachable() <-chan UnreachableReport {
	return b.unreachable
}

// BroadcastMessage appends the message to the room's log and fans it
// out to the room's connected members.
func (b *Broadcaster) BroadcastMessage(roomId string, msg types.Message) {
	b.broadcast(roomId, MessageFrame(msg), &msg)
	b.stats.Incr(stats.MessagesBroadcast)
}

// BroadcastEphemeral fans the frame out without touching the log.
// Used for roster updates and join/leave notices.
func (b *Broadcaster) BroadcastEphemeral(roomId string, frame *ServerFrame) {
	b.broadcast(roomId, frame, nil)
}

func (b *Broadcaster) broadcast(roomId string, frame *ServerFrame, persist *types.Message) {
	lock := b.roomLock(roomId)
	lock.Lock()
	defer lock.Unlock()

	// the stored copy goes in first so it and the wire copy carry
	// identical content, whether or not anyone is listening
	if persist != nil {
		b.msgLog.Append(roomId, *persist)
	}

	// broadcasting to a nonexistent room is a silent no-op: a leave
	// or disconnect can race an in-flight send
	members, ok := b.dir.Members(roomId)
	if !ok {
		return
	}

	for _, user := range members {
		h, online := b.registry.Lookup(user)
		if !online {
			continue
		}

		if !h.QueueFrame(frame) {
			// one failed send means the whole connection is dead
			b.log.Printf("failed to deliver to %q in room %q, marking unreachable", user, roomId)
			b.stats.Incr(stats.DeliveryFailures)
			b.reportUnreachable(user, h)
		}
	}
}

func (b *Broadcaster) reportUnreachable(user string, h SendHandle) {
	select {
	case b.unreachable <- UnreachableReport{User: user, Handle: h}:
	default:
		b.log.Printf("unreachable channel full, dropping report for %q", user)
	}
}

func (b *Broadcaster) roomLock(roomId string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, ok := b.roomLocks[roomId]
	if !ok {
		lock = &sync.Mutex{}
		b.roomLocks[roomId] = lock
	}

	return lock
}
