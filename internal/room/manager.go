// Package room owns the match rooms and their waiting → playing → finished
// lifecycle. Rooms hold connection ids, never session records, so a session
// torn down first cannot dangle here.
package room

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pointsarena/server/internal/game"
)

const maxMembers = 2

var (
	// ErrNotFound is returned for an unknown room id.
	ErrNotFound = errors.New("room not found")
	// ErrFull rejects joins on a room that already has two members.
	ErrFull = errors.New("room is full")
	// ErrNotJoinable rejects joins while a room is not waiting for players.
	ErrNotJoinable = errors.New("room is not joinable")
	// ErrNotAMember is returned when the connection does not belong to the room.
	ErrNotAMember = errors.New("not a member of this room")
	// ErrAlreadyInRoom enforces the one-room-per-connection invariant.
	ErrAlreadyInRoom = errors.New("connection already belongs to a room")
	// ErrNotPlaying rejects moves while the room is not mid-round.
	ErrNotPlaying = errors.New("room is not playing")
)

// Status names the room lifecycle states.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Room is the internal record for one match room.
type Room struct {
	ID           string
	GameKind     string
	HostConnID   string
	Members      []string
	Status       Status
	Stake        int64
	PendingMoves map[string]game.Move
	seq          uint64
}

// Snapshot is a stable copy of room state handed to callers; mutating it
// cannot affect the manager's records.
type Snapshot struct {
	ID         string   `json:"id"`
	GameKind   string   `json:"game"`
	HostConnID string   `json:"-"`
	Members    []string `json:"-"`
	Status     Status   `json:"status"`
	Stake      int64    `json:"stake"`
}

// Resolution reports that both moves are recorded and the round is ready to
// settle. The room itself is left untouched until Settle commits the result,
// so a ledger failure mid-settlement cannot strand partial state.
type Resolution struct {
	Room         Snapshot
	Participants [2]string
	Moves        [2]game.Move
}

// Departure describes the effect of removing a connection from its room.
type Departure struct {
	Room       Snapshot
	Deleted    bool
	WasPlaying bool
	Remaining  []string
}

// Manager owns the room table and the connection → room index.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	memberOf map[string]string
	nextSeq  uint64
	newID    func() string
}

// NewManager constructs an empty manager using newID to mint room identifiers.
func NewManager(newID func() string) *Manager {
	return &Manager{
		rooms:    make(map[string]*Room),
		memberOf: make(map[string]string),
		newID:    newID,
	}
}

// Create opens a waiting room hosted by the connection.
func (m *Manager) Create(connID, gameKind string, stake int64) (Snapshot, error) {
	connID = strings.TrimSpace(connID)
	if connID == "" {
		return Snapshot{}, fmt.Errorf("connection id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	//1.- A connection may belong to at most one room; check, don't rely on map luck.
	if existing, ok := m.memberOf[connID]; ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrAlreadyInRoom, existing)
	}
	m.nextSeq++
	rm := &Room{
		ID:           m.newID(),
		GameKind:     gameKind,
		HostConnID:   connID,
		Members:      []string{connID},
		Status:       StatusWaiting,
		Stake:        stake,
		PendingMoves: make(map[string]game.Move),
		seq:          m.nextSeq,
	}
	m.rooms[rm.ID] = rm
	m.memberOf[connID] = rm.ID
	return snapshotOf(rm), nil
}

// Join appends the connection to the room. The returned started flag is true
// when membership reached two and the room flipped to playing.
func (m *Manager) Join(connID, roomID string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, false, fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	if existing, joined := m.memberOf[connID]; joined {
		return Snapshot{}, false, fmt.Errorf("%w: %s", ErrAlreadyInRoom, existing)
	}
	if len(rm.Members) >= maxMembers {
		return Snapshot{}, false, ErrFull
	}
	if rm.Status != StatusWaiting {
		return Snapshot{}, false, ErrNotJoinable
	}
	rm.Members = append(rm.Members, connID)
	m.memberOf[connID] = rm.ID
	started := false
	if len(rm.Members) == maxMembers {
		rm.Status = StatusPlaying
		started = true
	}
	return snapshotOf(rm), started, nil
}

// SubmitMove records the move for the connection. A resubmission before the
// opponent moves silently replaces the pending move. When both members have a
// move on record the round is ready to settle and a Resolution is returned;
// room state stays untouched until Settle.
func (m *Manager) SubmitMove(connID, roomID string, move game.Move) (*Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	if !contains(rm.Members, connID) {
		return nil, ErrNotAMember
	}
	if rm.Status != StatusPlaying {
		return nil, ErrNotPlaying
	}
	rm.PendingMoves[connID] = move
	if len(rm.PendingMoves) < len(rm.Members) {
		return nil, nil
	}
	//1.- Both moves present: expose them in member order without mutating the room.
	resolution := &Resolution{Room: snapshotOf(rm)}
	for i, member := range rm.Members {
		resolution.Participants[i] = member
		resolution.Moves[i] = rm.PendingMoves[member]
	}
	return resolution, nil
}

// Settle commits the outcome of a resolved round: pending moves are cleared
// and the room either finishes or, on a draw, replays with the same members
// and stake.
func (m *Manager) Settle(roomID string, draw bool) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	rm.PendingMoves = make(map[string]game.Move)
	if draw {
		rm.Status = StatusPlaying
	} else {
		rm.Status = StatusFinished
	}
	return snapshotOf(rm), nil
}

// Leave removes the connection from whichever room holds it. The second
// return value is false when the connection had no room, making the call safe
// for both explicit leave and disconnect at any protocol state.
func (m *Manager) Leave(connID string) (Departure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.memberOf[connID]
	if !ok {
		return Departure{}, false
	}
	rm := m.rooms[roomID]
	delete(m.memberOf, connID)
	wasPlaying := rm.Status == StatusPlaying
	kept := rm.Members[:0]
	for _, member := range rm.Members {
		if member != connID {
			kept = append(kept, member)
		}
	}
	rm.Members = kept
	if len(rm.Members) == 0 {
		delete(m.rooms, roomID)
		return Departure{Room: snapshotOf(rm), Deleted: true, WasPlaying: wasPlaying}, true
	}
	//1.- An abandoned round is void: back to waiting, no pending moves kept.
	rm.Status = StatusWaiting
	rm.PendingMoves = make(map[string]game.Move)
	remaining := append([]string(nil), rm.Members...)
	return Departure{Room: snapshotOf(rm), WasPlaying: wasPlaying, Remaining: remaining}, true
}

// Get returns a snapshot of the room, or ErrNotFound.
func (m *Manager) Get(roomID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rm, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	return snapshotOf(rm), nil
}

// RoomOf reports which room the connection belongs to, if any.
func (m *Manager) RoomOf(connID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, ok := m.memberOf[connID]
	return roomID, ok
}

// Open lists the rooms still waiting for a second player, in creation order.
func (m *Manager) Open() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	open := make([]*Room, 0, len(m.rooms))
	for _, rm := range m.rooms {
		if rm.Status == StatusWaiting {
			open = append(open, rm)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].seq < open[j].seq })
	snapshots := make([]Snapshot, 0, len(open))
	for _, rm := range open {
		snapshots = append(snapshots, snapshotOf(rm))
	}
	return snapshots
}

// Count reports the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func snapshotOf(rm *Room) Snapshot {
	return Snapshot{
		ID:         rm.ID,
		GameKind:   rm.GameKind,
		HostConnID: rm.HostConnID,
		Members:    append([]string(nil), rm.Members...),
		Status:     rm.Status,
		Stake:      rm.Stake,
	}
}

func contains(members []string, connID string) bool {
	for _, member := range members {
		if member == connID {
			return true
		}
	}
	return false
}
