package server

import (
	"context"
	"log"
	"sync"

	"github.com/chatrelay/chatrelay/internal/stats"
)

// ChatServer is the context object tying the room directory,
// connection registry, message log and broadcast engine together. It
// is constructed once at process start and passed to every handler;
// there is no ambient global state.
type ChatServer struct {
	log                   *log.Logger
	stats                 stats.StatsProvider
	historyLimit          int
	persistentMemberships bool

	Directory *RoomDirectory
	Registry  *ConnectionRegistry
	Messages  *MessageLog
	History   *HistoryFilter

	broadcaster *Broadcaster

	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	stop        chan struct{}
	done        chan struct{}
}

type Options struct {
	// HistoryLimit caps the number of messages replayed per room on
	// connect.
	HistoryLimit int
	// PersistentMemberships keeps private/group memberships across
	// disconnects instead of treating rooms as sessions.
	PersistentMemberships bool
}

func NewChatServer(logger *log.Logger, statsProvider stats.StatsProvider, opts Options) (*ChatServer, error) {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}

	dir := NewRoomDirectory(logger, statsProvider)
	registry := NewConnectionRegistry()
	msgLog := NewMessageLog()

	cs := &ChatServer{
		log:                   logger,
		stats:                 statsProvider,
		historyLimit:          opts.HistoryLimit,
		persistentMemberships: opts.PersistentMemberships,
		Directory:             dir,
		Registry:              registry,
		Messages:              msgLog,
		History:               NewHistoryFilter(dir, msgLog, registry),
		broadcaster:           NewBroadcaster(logger, dir, msgLog, registry, statsProvider),
		clients:               make(map[*Client]struct{}),
		stop:                  make(chan struct{}),
		done:                  make(chan struct{}),
	}

	for _, metric := range []string{
		stats.ActiveConnections,
		stats.TotalRooms,
		stats.MessagesBroadcast,
		stats.DeliveryFailures,
	} {
		statsProvider.RegisterMetric(metric)
	}

	return cs, nil
}

// Run consumes unreachable-recipient reports from the broadcast
// engine until Shutdown. It is the single cleanup routine for failed
// deliveries.
func (cs *ChatServer) Run() {
	for {
		select {
		case report := <-cs.broadcaster.Unreachable():
			cs.cleanupUnreachable(report)
		case <-cs.stop:
			cs.log.Println("closing client connections")
			cs.clientsLock.Lock()
			for c := range cs.clients {
				c.Close()
			}
			cs.clientsLock.Unlock()

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect runs the connection-entry bracket: register the handle,
// auto-join the public room, replay the user's rooms and filtered
// history, and announce the arrival to the public room.
func (cs *ChatServer) Connect(c *Client) {
	user := c.UserId()

	if prev := cs.Registry.Register(user, c); prev != nil {
		// at most one live handle per user; the old transport gets
		// closed, not reused. The user was already counted online.
		cs.log.Printf("superseding existing connection for %q", user)
		prev.Close()
	} else {
		cs.stats.Incr(stats.ActiveConnections)
	}

	cs.Directory.Join(user, PublicRoomId)
	cs.addClient(c)

	firstSeen, _ := cs.Registry.FirstSeen(user)
	c.QueueFrame(ConnectionFrame(user, firstSeen))

	rooms := cs.Directory.RoomsOf(user)
	c.QueueFrame(RoomsListFrame(rooms))

	for _, room := range rooms {
		history := cs.History.HistoryFor(user, room.RoomId, cs.historyLimit)
		if len(history) > 0 {
			c.QueueFrame(ChatHistoryFrame(room.RoomId, history))
		}
	}

	cs.broadcaster.BroadcastEphemeral(PublicRoomId, OnlineUsersFrame(cs.Registry.ListOnline()))
	cs.broadcaster.BroadcastEphemeral(PublicRoomId, UserJoinedFrame(user))

	cs.log.Printf("%q connected, online: %d", user, cs.Registry.Count())
}

// Disconnect runs the connection-exit bracket. It is a no-op for
// handles already superseded by a reconnect or already cleaned up
// after a delivery failure.
func (cs *ChatServer) Disconnect(c *Client) {
	cs.removeClient(c)

	user := c.UserId()
	if !cs.Registry.Unregister(user, c) {
		return
	}

	cs.finishDisconnect(user)
}

// HandleInbound processes one raw frame from a client: parse with
// defaults, gate on room access, validate the payload variant, then
// broadcast. Malformed input is dropped silently; access violations
// get an explicit rejection frame.
func (cs *ChatServer) HandleInbound(c *Client, raw []byte) {
	frame, err := parseClientFrame(raw)
	if err != nil {
		cs.log.Printf("dropping malformed frame from %q: %v", c.UserId(), err)
		return
	}

	user := c.UserId()
	if !cs.Directory.CanAccess(user, frame.RoomId) {
		cs.log.Printf("security: %q attempted to send to room %q without membership", user, frame.RoomId)
		c.QueueFrame(ErrAccessDenied(frame.RoomId))
		return
	}

	msg, err := frame.Message(user, Now())
	if err != nil {
		cs.log.Printf("dropping invalid %s message from %q: %v", frame.MessageType, user, err)
		return
	}

	cs.broadcaster.BroadcastMessage(frame.RoomId, msg)
}

// HistoryLimit is the per-room replay cap applied on connect and as
// the default for history requests.
func (cs *ChatServer) HistoryLimit() int {
	return cs.historyLimit
}

func (cs *ChatServer) cleanupUnreachable(report UnreachableReport) {
	// act only on the user's current handle: a reconnect may have
	// superseded the one the failure was observed on, and a stale
	// report must not tear down the fresh session
	cur, ok := cs.Registry.Lookup(report.User)
	if !ok || cur != report.Handle {
		return
	}

	cs.log.Printf("cleaning up unreachable user %q", report.User)
	cur.Close()

	if cs.Registry.Unregister(report.User, cur) {
		cs.finishDisconnect(report.User)
	}
}

func (cs *ChatServer) finishDisconnect(user string) {
	cs.Directory.RemoveOnDisconnect(user, cs.persistentMemberships)
	cs.stats.Decr(stats.ActiveConnections)

	cs.broadcaster.BroadcastEphemeral(PublicRoomId, OnlineUsersFrame(cs.Registry.ListOnline()))
	cs.broadcaster.BroadcastEphemeral(PublicRoomId, UserLeftFrame(user))

	cs.log.Printf("%q disconnected, online: %d", user, cs.Registry.Count())
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}
