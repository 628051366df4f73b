package game

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownMove is returned when a submitted move is not part of the game.
	ErrUnknownMove = errors.New("unknown move")
	// ErrUnknownKind is returned when no stake is configured for a game kind.
	ErrUnknownKind = errors.New("unknown game kind")
)

// Move identifies one of the three simultaneous choices.
type Move string

const (
	MoveRock     Move = "rock"
	MovePaper    Move = "paper"
	MoveScissors Move = "scissors"
)

// beats maps each move to the move it dominates.
var beats = map[Move]Move{
	MoveRock:     MoveScissors,
	MoveScissors: MovePaper,
	MovePaper:    MoveRock,
}

// ParseMove normalises raw client input into a Move.
func ParseMove(raw string) (Move, error) {
	move := Move(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := beats[move]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMove, raw)
	}
	return move, nil
}

// Outcome captures the settlement of one round between two participants.
// Participants are addressed by index: 0 for the first move, 1 for the second.
type Outcome struct {
	Winner int      `json:"winner"`
	Loser  int      `json:"loser"`
	Draw   bool     `json:"draw"`
	Deltas [2]int64 `json:"deltas"`
}

// Resolve computes the zero-sum settlement for a pair of moves and a stake.
// The function is total over all nine move combinations and touches no state
// outside its arguments, which keeps the game swappable behind the stake table.
func Resolve(a, b Move, stake int64) Outcome {
	//1.- Equal moves settle as a draw with no points moved.
	if a == b {
		return Outcome{Winner: -1, Loser: -1, Draw: true}
	}
	//2.- Cyclic dominance decides the winner; the stake transfers whole.
	if beats[a] == b {
		return Outcome{Winner: 0, Loser: 1, Deltas: [2]int64{stake, -stake}}
	}
	return Outcome{Winner: 1, Loser: 0, Deltas: [2]int64{-stake, stake}}
}

// stakes fixes the wager per game kind. Only one kind ships today; adding a
// simultaneous-move variant means a new entry here plus a Resolve substitute.
var stakes = map[string]int64{
	"rps": 100,
}

// StakeFor returns the fixed wager for the given game kind.
func StakeFor(kind string) (int64, error) {
	stake, ok := stakes[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return stake, nil
}
