package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pointsarena/server/internal/game"
	"pointsarena/server/internal/ledger"
	"pointsarena/server/internal/room"
	"pointsarena/server/internal/session"
)

// Inbound event types a client may send over the socket.
const (
	eventLogin      = "login"
	eventCreateRoom = "create_room"
	eventJoinRoom   = "join_room"
	eventSubmitMove = "submit_move"
	eventLeaveRoom  = "leave_room"
	eventTransfer   = "transfer"
	eventLogout     = "logout"
)

// Outbound event types the server pushes back.
const (
	eventLoginAccepted    = "login_accepted"
	eventLoginRejected    = "login_rejected"
	eventRoster           = "roster"
	eventRoomList         = "room_list"
	eventRoomCreated      = "room_created"
	eventRoomJoined       = "room_joined"
	eventMatchStarted     = "match_started"
	eventMoveAck          = "move_ack"
	eventMatchSettled     = "match_settled"
	eventMatchContinues   = "match_continues"
	eventMemberLeft       = "member_left"
	eventRejected         = "rejected"
	eventTransferSent     = "transfer_sent"
	eventTransferReceived = "transfer_received"
	eventServerError      = "server_error"
)

var (
	errEmptyFrame  = errors.New("empty frame")
	errMissingType = errors.New("frame missing type")
)

// inboundEnvelope is the outer JSON layout of every client frame.
type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// decodeEnvelope parses a websocket frame into the tagged envelope.
func decodeEnvelope(raw []byte) (*inboundEnvelope, error) {
	//1.- Ensure we have data to decode before hitting JSON parsing.
	if len(raw) == 0 {
		return nil, errEmptyFrame
	}
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	//2.- Require a routable type; the payload may legitimately be absent.
	if strings.TrimSpace(env.Type) == "" {
		return nil, errMissingType
	}
	return &env, nil
}

type loginPayload struct {
	Proof string `json:"proof"`
}

func (p *loginPayload) validate() error {
	if p == nil || strings.TrimSpace(p.Proof) == "" {
		return errors.New("login missing proof")
	}
	return nil
}

type createRoomPayload struct {
	GameKind string `json:"game"`
}

func (p *createRoomPayload) validate() error {
	if p == nil || strings.TrimSpace(p.GameKind) == "" {
		return errors.New("create_room missing game kind")
	}
	return nil
}

type joinRoomPayload struct {
	RoomID string `json:"room_id"`
}

func (p *joinRoomPayload) validate() error {
	if p == nil || strings.TrimSpace(p.RoomID) == "" {
		return errors.New("join_room missing room id")
	}
	return nil
}

type submitMovePayload struct {
	RoomID string `json:"room_id"`
	Move   string `json:"move"`
}

func (p *submitMovePayload) validate() error {
	if p == nil {
		return errors.New("submit_move payload is nil")
	}
	if strings.TrimSpace(p.RoomID) == "" {
		return errors.New("submit_move missing room id")
	}
	if strings.TrimSpace(p.Move) == "" {
		return errors.New("submit_move missing move")
	}
	return nil
}

type transferPayload struct {
	Target string `json:"target"`
	Amount int64  `json:"amount"`
}

func (p *transferPayload) validate() error {
	if p == nil || strings.TrimSpace(p.Target) == "" {
		return errors.New("transfer missing target")
	}
	return nil
}

// decodePayload unmarshals the inner payload and runs its validation hook.
func decodePayload(raw json.RawMessage, into interface{ validate() error }) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return err
	}
	return into.validate()
}

// Outbound view structs keep wire shapes decoupled from internal records.

type userView struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
}

func viewOfSession(sess *session.Session) userView {
	return userView{AccountID: sess.AccountID, DisplayName: sess.DisplayName, Balance: sess.Balance}
}

type roomView struct {
	ID      string   `json:"id"`
	Game    string   `json:"game"`
	Status  string   `json:"status"`
	Stake   int64    `json:"stake"`
	Members []string `json:"members"`
}

type settledView struct {
	Room     roomView          `json:"room"`
	Draw     bool              `json:"draw"`
	Winner   string            `json:"winner,omitempty"`
	Loser    string            `json:"loser,omitempty"`
	Moves    map[string]string `json:"moves"`
	Balances map[string]int64  `json:"balances"`
}

// envelope renders a tagged outbound frame; marshal failures surface as a
// bare server_error frame so the client is never left waiting.
func envelope(eventType string, payload any) []byte {
	frame := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: eventType, Payload: payload}
	data, err := json.Marshal(frame)
	if err != nil {
		return []byte(`{"type":"server_error"}`)
	}
	return data
}

// Wire reason strings for rejected operations.
const (
	reasonBadRequest        = "bad_request"
	reasonNotAuthenticated  = "not_authenticated"
	reasonAlreadyOnline     = "already_online"
	reasonServerFull        = "server_full"
	reasonInvalidProof      = "invalid_proof"
	reasonExpiredProof      = "expired_proof"
	reasonUnknownGame       = "unknown_game"
	reasonUnknownMove       = "unknown_move"
	reasonRoomNotFound      = "room_not_found"
	reasonRoomFull          = "room_full"
	reasonNotJoinable       = "not_joinable"
	reasonNotAMember        = "not_a_member"
	reasonAlreadyInRoom     = "already_in_room"
	reasonNotPlaying        = "not_playing"
	reasonInsufficientFunds = "insufficient_funds"
	reasonInvalidAmount     = "invalid_amount"
	reasonRecipientOffline  = "recipient_offline"
	reasonServerError       = "server_error"
)

// reasonFor maps package sentinel errors onto their wire reason strings.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, session.ErrAlreadyOnline):
		return reasonAlreadyOnline
	case errors.Is(err, session.ErrServerFull):
		return reasonServerFull
	case errors.Is(err, room.ErrNotFound):
		return reasonRoomNotFound
	case errors.Is(err, room.ErrFull):
		return reasonRoomFull
	case errors.Is(err, room.ErrNotJoinable):
		return reasonNotJoinable
	case errors.Is(err, room.ErrNotAMember):
		return reasonNotAMember
	case errors.Is(err, room.ErrAlreadyInRoom):
		return reasonAlreadyInRoom
	case errors.Is(err, room.ErrNotPlaying):
		return reasonNotPlaying
	case errors.Is(err, game.ErrUnknownMove):
		return reasonUnknownMove
	case errors.Is(err, game.ErrUnknownKind):
		return reasonUnknownGame
	case errors.Is(err, ledger.ErrNoAccount):
		return reasonServerError
	default:
		return reasonServerError
	}
}
