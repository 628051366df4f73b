package room

import (
	"errors"
	"fmt"
	"testing"

	"pointsarena/server/internal/game"
)

func newTestManager() *Manager {
	next := 0
	return NewManager(func() string {
		next++
		return fmt.Sprintf("room-%d", next)
	})
}

func TestCreateAndJoinLifecycle(t *testing.T) {
	m := newTestManager()

	created, err := m.Create("conn-a", "rps", 100)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Status != StatusWaiting {
		t.Fatalf("new room must be waiting, got %s", created.Status)
	}
	if len(created.Members) != 1 || created.Members[0] != "conn-a" {
		t.Fatalf("unexpected members: %v", created.Members)
	}

	joined, started, err := m.Join("conn-b", created.ID)
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if !started {
		t.Fatalf("second join must start the match")
	}
	if joined.Status != StatusPlaying {
		t.Fatalf("expected playing, got %s", joined.Status)
	}
	if len(joined.Members) != 2 {
		t.Fatalf("expected 2 members, got %v", joined.Members)
	}
}

func TestJoinErrors(t *testing.T) {
	m := newTestManager()
	created, err := m.Create("conn-a", "rps", 100)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, _, err := m.Join("conn-b", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := m.Join("conn-b", created.ID); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if _, _, err := m.Join("conn-c", created.ID); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull on a two-member room, got %v", err)
	}
}

func TestOneRoomPerConnection(t *testing.T) {
	m := newTestManager()
	first, err := m.Create("conn-a", "rps", 100)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := m.Create("conn-a", "rps", 100); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("expected ErrAlreadyInRoom, got %v", err)
	}
	second, err := m.Create("conn-b", "rps", 100)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, _, err := m.Join("conn-a", second.ID); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("expected ErrAlreadyInRoom, got %v", err)
	}
	if _, ok := m.RoomOf("conn-a"); !ok {
		t.Fatalf("conn-a must still be indexed to %s", first.ID)
	}
}

func TestSubmitMoveResolvesWhenBothPresent(t *testing.T) {
	m := newTestManager()
	created, _ := m.Create("conn-a", "rps", 100)
	if _, _, err := m.Join("conn-b", created.ID); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	resolution, err := m.SubmitMove("conn-a", created.ID, game.MoveRock)
	if err != nil {
		t.Fatalf("SubmitMove returned error: %v", err)
	}
	if resolution != nil {
		t.Fatalf("one move must not resolve the round")
	}

	//1.- Resubmission before the opponent moves silently replaces the record.
	if _, err := m.SubmitMove("conn-a", created.ID, game.MovePaper); err != nil {
		t.Fatalf("resubmission returned error: %v", err)
	}

	resolution, err = m.SubmitMove("conn-b", created.ID, game.MoveRock)
	if err != nil {
		t.Fatalf("SubmitMove returned error: %v", err)
	}
	if resolution == nil {
		t.Fatalf("both moves present must yield a resolution")
	}
	if resolution.Participants != [2]string{"conn-a", "conn-b"} {
		t.Fatalf("unexpected participants: %v", resolution.Participants)
	}
	if resolution.Moves != [2]game.Move{game.MovePaper, game.MoveRock} {
		t.Fatalf("unexpected moves: %v", resolution.Moves)
	}

	//2.- The room stays untouched until Settle commits the result.
	snapshot, err := m.Get(created.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if snapshot.Status != StatusPlaying {
		t.Fatalf("room must still be playing before Settle, got %s", snapshot.Status)
	}
}

func TestSubmitMoveErrors(t *testing.T) {
	m := newTestManager()
	created, _ := m.Create("conn-a", "rps", 100)

	if _, err := m.SubmitMove("conn-a", "nope", game.MoveRock); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.SubmitMove("conn-x", created.ID, game.MoveRock); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	if _, err := m.SubmitMove("conn-a", created.ID, game.MoveRock); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying while waiting, got %v", err)
	}
}

func TestSettleDrawReplays(t *testing.T) {
	m := newTestManager()
	created, _ := m.Create("conn-a", "rps", 100)
	if _, _, err := m.Join("conn-b", created.ID); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if _, err := m.SubmitMove("conn-a", created.ID, game.MoveRock); err != nil {
		t.Fatalf("SubmitMove returned error: %v", err)
	}
	if _, err := m.SubmitMove("conn-b", created.ID, game.MoveRock); err != nil {
		t.Fatalf("SubmitMove returned error: %v", err)
	}

	snapshot, err := m.Settle(created.ID, true)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if snapshot.Status != StatusPlaying {
		t.Fatalf("draw must return the room to playing, got %s", snapshot.Status)
	}
	//1.- The replayed round starts from a clean move slate.
	resolution, err := m.SubmitMove("conn-a", created.ID, game.MoveScissors)
	if err != nil {
		t.Fatalf("SubmitMove after draw returned error: %v", err)
	}
	if resolution != nil {
		t.Fatalf("pending moves must have been cleared by the draw")
	}
}

func TestSettleDecisiveFinishes(t *testing.T) {
	m := newTestManager()
	created, _ := m.Create("conn-a", "rps", 100)
	if _, _, err := m.Join("conn-b", created.ID); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	snapshot, err := m.Settle(created.ID, false)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if snapshot.Status != StatusFinished {
		t.Fatalf("expected finished, got %s", snapshot.Status)
	}
	if _, _, err := m.Join("conn-c", created.ID); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull for a finished two-member room, got %v", err)
	}
}

func TestLeaveMidPlayingResetsToWaiting(t *testing.T) {
	m := newTestManager()
	created, _ := m.Create("conn-a", "rps", 100)
	if _, _, err := m.Join("conn-b", created.ID); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if _, err := m.SubmitMove("conn-a", created.ID, game.MoveRock); err != nil {
		t.Fatalf("SubmitMove returned error: %v", err)
	}

	departure, ok := m.Leave("conn-a")
	if !ok {
		t.Fatalf("Leave must report the membership change")
	}
	if departure.Deleted {
		t.Fatalf("room with a remaining member must survive")
	}
	if !departure.WasPlaying {
		t.Fatalf("departure must flag the interrupted round")
	}
	if len(departure.Remaining) != 1 || departure.Remaining[0] != "conn-b" {
		t.Fatalf("unexpected remaining members: %v", departure.Remaining)
	}
	if departure.Room.Status != StatusWaiting {
		t.Fatalf("room must reset to waiting, got %s", departure.Room.Status)
	}

	//1.- A third player can now take the freed seat.
	joined, started, err := m.Join("conn-c", created.ID)
	if err != nil {
		t.Fatalf("Join after leave returned error: %v", err)
	}
	if !started || joined.Status != StatusPlaying {
		t.Fatalf("expected the refilled room to start, got started=%v status=%s", started, joined.Status)
	}
}

func TestLeaveLastMemberDeletesRoom(t *testing.T) {
	m := newTestManager()
	created, _ := m.Create("conn-a", "rps", 100)

	departure, ok := m.Leave("conn-a")
	if !ok || !departure.Deleted {
		t.Fatalf("expected the empty room to be deleted, got ok=%v departure=%+v", ok, departure)
	}
	if _, err := m.Get(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted room must be gone, got %v", err)
	}
	//1.- Leaving twice is a no-op, matching the disconnect idempotence contract.
	if _, ok := m.Leave("conn-a"); ok {
		t.Fatalf("second leave must report no membership")
	}
}

func TestOpenListsWaitingRoomsInCreationOrder(t *testing.T) {
	m := newTestManager()
	first, _ := m.Create("conn-a", "rps", 100)
	second, _ := m.Create("conn-b", "rps", 100)
	third, _ := m.Create("conn-c", "rps", 100)
	if _, _, err := m.Join("conn-d", second.ID); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	open := m.Open()
	if len(open) != 2 {
		t.Fatalf("expected 2 open rooms, got %d", len(open))
	}
	if open[0].ID != first.ID || open[1].ID != third.ID {
		t.Fatalf("unexpected order: %s, %s", open[0].ID, open[1].ID)
	}
}
