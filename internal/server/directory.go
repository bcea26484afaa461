package server

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/internal/stats"
	"github.com/chatrelay/chatrelay/internal/types"
	"github.com/teris-io/shortid"
)

// PublicRoomId is the reserved identifier of the always-present
// public room. Every connected user is a member of it.
const PublicRoomId = "public"

const publicRoomName = "Public Chat"

type room struct {
	id        string
	roomType  types.RoomType
	name      string
	createdAt time.Time
	// members is the live membership set and the sole input to
	// access control and broadcast targeting.
	members map[string]struct{}
	// originalMembers is the immutable snapshot taken at creation.
	// It is informational: private-room dedup and display naming
	// only, never security checks.
	originalMembers []string
}

// RoomDirectory owns room existence, metadata and membership. All
// methods are safe for concurrent use.
type RoomDirectory struct {
	mu         sync.RWMutex
	log        *log.Logger
	stats      stats.StatsProvider
	rooms      map[string]*room
	userRooms  map[string]map[string]struct{}
	generateId func() (string, error)
}

func NewRoomDirectory(logger *log.Logger, statsProvider stats.StatsProvider) *RoomDirectory {
	d := &RoomDirectory{
		log:        logger,
		stats:      statsProvider,
		rooms:      make(map[string]*room),
		userRooms:  make(map[string]map[string]struct{}),
		generateId: shortid.Generate,
	}

	// the public room exists from process start, has no owner and
	// is never deleted
	d.rooms[PublicRoomId] = &room{
		id:        PublicRoomId,
		roomType:  types.RoomPublic,
		name:      publicRoomName,
		createdAt: Now(),
		members:   make(map[string]struct{}),
	}

	return d
}

// CreateRoom creates a private or group room with the given members
// and returns its generated id. The member list is also captured as
// the room's immutable original-member snapshot.
func (d *RoomDirectory) CreateRoom(roomType types.RoomType, members []string, name string) (string, error) {
	id, err := d.generateId()
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}

	if name == "" {
		name = defaultRoomName(roomType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.createRoomLocked(id, roomType, members, name)

	return id, nil
}

// GetOrCreatePrivateRoom returns the private room for the unordered
// pair {userA, userB}, creating it if absent. Identity is keyed by
// the immutable original member pair: a disconnect may empty the live
// membership set, and that must not mint a second room for the same
// pair on reconnect. The returned room always has both users in its
// live membership set — a prior disconnect may have removed them, and
// a room neither user can access again would be unusable.
func (d *RoomDirectory) GetOrCreatePrivateRoom(userA, userB string) (string, error) {
	d.mu.Lock()
	if id, found := d.findPrivateRoomLocked(userA, userB); found {
		d.rejoinPairLocked(id, userA, userB)
		d.mu.Unlock()
		return id, nil
	}
	d.mu.Unlock()

	newId, err := d.generateId()
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// re-check under the write lock: a concurrent call for the same
	// pair must not mint a second room
	if id, found := d.findPrivateRoomLocked(userA, userB); found {
		d.rejoinPairLocked(id, userA, userB)
		return id, nil
	}

	d.createRoomLocked(newId, types.RoomPrivate, []string{userA, userB}, defaultRoomName(types.RoomPrivate))

	return newId, nil
}

func (d *RoomDirectory) rejoinPairLocked(roomId, userA, userB string) {
	r := d.rooms[roomId]
	for _, user := range []string{userA, userB} {
		r.members[user] = struct{}{}
		d.addUserRoomLocked(user, roomId)
	}
}

func (d *RoomDirectory) findPrivateRoomLocked(userA, userB string) (string, bool) {
	for id, r := range d.rooms {
		if r.roomType == types.RoomPrivate && isPair(r.originalMembers, userA, userB) {
			return id, true
		}
	}

	return "", false
}

func (d *RoomDirectory) createRoomLocked(id string, roomType types.RoomType, members []string, name string) {
	r := &room{
		id:        id,
		roomType:  roomType,
		name:      name,
		createdAt: Now(),
		members:   make(map[string]struct{}, len(members)),
	}

	for _, user := range members {
		if _, ok := r.members[user]; ok {
			continue
		}
		r.members[user] = struct{}{}
		r.originalMembers = append(r.originalMembers, user)
		d.addUserRoomLocked(user, id)
	}

	d.rooms[id] = r
	d.stats.Incr(stats.TotalRooms)
	d.log.Printf("created %s room %q with %d members", roomType, id, len(r.originalMembers))
}

// Join adds the user to the room's live membership set. It fails only
// if the room does not exist; joining a room twice is a no-op.
func (d *RoomDirectory) Join(user, roomId string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[roomId]
	if !ok {
		return false
	}

	r.members[user] = struct{}{}
	d.addUserRoomLocked(user, roomId)

	return true
}

// Leave removes the user from the room's live membership set. Leaving
// the public room is disallowed; leaving a room the user is not in is
// a no-op success.
func (d *RoomDirectory) Leave(user, roomId string) bool {
	if roomId == PublicRoomId {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rooms[roomId]; ok {
		delete(r.members, user)
	}
	if rooms, ok := d.userRooms[user]; ok {
		delete(rooms, roomId)
	}

	return true
}

// RemoveFromAll removes the user from every room's live membership
// set, the public room included. Used for full disconnect cleanup.
func (d *RoomDirectory) RemoveFromAll(user string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for roomId := range d.userRooms[user] {
		if r, ok := d.rooms[roomId]; ok {
			delete(r.members, user)
		}
	}
	delete(d.userRooms, user)
}

// RemoveOnDisconnect removes a disconnecting user from the public
// room and, unless persistent is set, from every other room as well.
// With persistent memberships, private and group rooms survive the
// disconnect and are restored to the user's room set on reconnect.
func (d *RoomDirectory) RemoveOnDisconnect(user string, persistent bool) {
	if !persistent {
		d.RemoveFromAll(user)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rooms[PublicRoomId]; ok {
		delete(r.members, user)
	}
	if rooms, ok := d.userRooms[user]; ok {
		delete(rooms, PublicRoomId)
	}
}

// CanAccess is the single access-control predicate: true iff the room
// exists and the user is currently in its live membership set.
func (d *RoomDirectory) CanAccess(user, roomId string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[roomId]
	if !ok {
		return false
	}

	_, member := r.members[user]
	return member
}

// Exists reports whether the room is present in the directory.
func (d *RoomDirectory) Exists(roomId string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.rooms[roomId]
	return ok
}

// Members returns a snapshot of the room's live membership set, so
// callers can iterate without holding the directory lock.
func (d *RoomDirectory) Members(roomId string) ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[roomId]
	if !ok {
		return nil, false
	}

	members := make([]string, 0, len(r.members))
	for user := range r.members {
		members = append(members, user)
	}

	return members, true
}

// RoomsOf returns summaries for every room in the user's room set,
// public room first, then by creation time.
func (d *RoomDirectory) RoomsOf(user string) []types.RoomSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	summaries := make([]types.RoomSummary, 0, len(d.userRooms[user]))
	for roomId := range d.userRooms[user] {
		r, ok := d.rooms[roomId]
		if !ok {
			continue
		}
		summaries = append(summaries, d.summaryLocked(r, user))
	}

	sort.Slice(summaries, func(i, j int) bool {
		if (summaries[i].RoomId == PublicRoomId) != (summaries[j].RoomId == PublicRoomId) {
			return summaries[i].RoomId == PublicRoomId
		}
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
		}
		return summaries[i].RoomId < summaries[j].RoomId
	})

	return summaries
}

// Summary returns the room's summary, with private-room naming
// resolved for forUser when non-empty.
func (d *RoomDirectory) Summary(roomId, forUser string) (types.RoomSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[roomId]
	if !ok {
		return types.RoomSummary{}, false
	}

	return d.summaryLocked(r, forUser), true
}

func (d *RoomDirectory) summaryLocked(r *room, forUser string) types.RoomSummary {
	s := types.RoomSummary{
		RoomId:      r.id,
		Type:        r.roomType,
		Name:        r.name,
		MemberCount: len(r.members),
		CreatedAt:   r.createdAt,
	}

	if r.roomType == types.RoomPrivate && forUser != "" {
		// name a private room after the other member, taken from the
		// immutable snapshot so it stays stable when the live set
		// diverges
		for _, member := range r.originalMembers {
			if member != forUser {
				s.OtherUser = member
				s.Name = member
				break
			}
		}
	}

	return s
}

func (d *RoomDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.rooms)
}

func (d *RoomDirectory) addUserRoomLocked(user, roomId string) {
	if d.userRooms[user] == nil {
		d.userRooms[user] = make(map[string]struct{})
	}
	d.userRooms[user][roomId] = struct{}{}
}

func isPair(members []string, userA, userB string) bool {
	if len(members) != 2 {
		return false
	}

	return (members[0] == userA && members[1] == userB) ||
		(members[0] == userB && members[1] == userA)
}

func defaultRoomName(roomType types.RoomType) string {
	switch roomType {
	case types.RoomPrivate:
		return "Private Chat"
	case types.RoomGroup:
		return "Group Chat"
	default:
		return publicRoomName
	}
}
