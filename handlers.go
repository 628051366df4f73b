package main

import (
	"context"
	"errors"

	"pointsarena/server/internal/auth"
	"pointsarena/server/internal/game"
	"pointsarena/server/internal/logging"
	"pointsarena/server/internal/room"
	"pointsarena/server/internal/session"
)

// handleFrame decodes one inbound frame and routes it to its handler. All
// handlers run on the dispatch goroutine, so they may touch session and room
// state freely; only ledger calls can fail out from under them.
func (s *Server) handleFrame(c *client, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		s.reject(c, "", reasonBadRequest)
		return
	}
	switch env.Type {
	case eventLogin:
		s.handleLogin(c, env.Payload)
	case eventCreateRoom:
		s.handleCreateRoom(c, env.Payload)
	case eventJoinRoom:
		s.handleJoinRoom(c, env.Payload)
	case eventSubmitMove:
		s.handleSubmitMove(c, env.Payload)
	case eventLeaveRoom:
		s.handleLeaveRoom(c)
	case eventTransfer:
		s.handleTransfer(c, env.Payload)
	case eventLogout:
		s.handleDisconnect(c)
	default:
		s.reject(c, env.Type, reasonBadRequest)
	}
}

// reject reports a refused operation back to the offending connection only.
func (s *Server) reject(c *client, op, reason string) {
	s.sendTo(c, envelope(eventRejected, struct {
		Op     string `json:"op,omitempty"`
		Reason string `json:"reason"`
	}{Op: op, Reason: reason}))
}

// serverFault hides internal failure detail behind a generic frame.
func (s *Server) serverFault(c *client, op string, err error) {
	s.log.Error("operation failed", logging.String("op", op), logging.String("conn_id", c.id), logging.Error(err))
	s.sendTo(c, envelope(eventServerError, struct {
		Op string `json:"op,omitempty"`
	}{Op: op}))
}

// requireSession resolves the caller's session or rejects the operation.
func (s *Server) requireSession(c *client, op string) *session.Session {
	sess := s.sessions.ByConnection(c.id)
	if sess == nil {
		s.reject(c, op, reasonNotAuthenticated)
	}
	return sess
}

// handleLogin verifies the identity proof, provisions the ledger account on
// first sight, and registers the session.
func (s *Server) handleLogin(c *client, raw []byte) {
	if s.sessions.ByConnection(c.id) != nil {
		s.reject(c, eventLogin, reasonBadRequest)
		return
	}
	var payload loginPayload
	if err := decodePayload(raw, &payload); err != nil {
		s.reject(c, eventLogin, reasonBadRequest)
		return
	}

	//1.- Verify the proof before touching any server state.
	identity, err := s.verifier.Verify(payload.Proof)
	if err != nil {
		reason := reasonInvalidProof
		if errors.Is(err, auth.ErrExpiredProof) {
			reason = reasonExpiredProof
		}
		s.sendTo(c, envelope(eventLoginRejected, struct {
			Reason string `json:"reason"`
		}{Reason: reason}))
		return
	}

	//2.- Provision the durable account if this identity is new, then read the
	// authoritative balance back.
	ctx := context.Background()
	balance, err := s.store.Ensure(ctx, identity.AccountID, s.cfg.StartingBalance)
	if err != nil {
		s.serverFault(c, eventLogin, err)
		return
	}

	//3.- Claim the session slot; a duplicate login or a full server rejects
	// without disturbing the existing session.
	sess, err := s.sessions.Register(c.id, identity.AccountID, identity.DisplayName, balance)
	if err != nil {
		s.sendTo(c, envelope(eventLoginRejected, struct {
			Reason string `json:"reason"`
		}{Reason: reasonFor(err)}))
		return
	}

	s.log.Info("session opened",
		logging.String("conn_id", c.id),
		logging.String("account_id", sess.AccountID),
		logging.Int64("balance", sess.Balance))

	s.sendTo(c, envelope(eventLoginAccepted, struct {
		User   userView              `json:"user"`
		Roster []session.RosterEntry `json:"roster"`
		Rooms  []roomView            `json:"rooms"`
	}{User: viewOfSession(sess), Roster: s.sessions.Roster(), Rooms: s.openRoomViews()}))
	s.pushRoster()
}

// handleCreateRoom opens a waiting room after gating the host's balance
// against the stake for the requested game kind.
func (s *Server) handleCreateRoom(c *client, raw []byte) {
	sess := s.requireSession(c, eventCreateRoom)
	if sess == nil {
		return
	}
	var payload createRoomPayload
	if err := decodePayload(raw, &payload); err != nil {
		s.reject(c, eventCreateRoom, reasonBadRequest)
		return
	}
	stake, err := game.StakeFor(payload.GameKind)
	if err != nil {
		s.reject(c, eventCreateRoom, reasonFor(err))
		return
	}

	//1.- Re-read the durable balance immediately before the funds check; the
	// cached value may be stale relative to admin top-ups.
	balance, err := s.sessions.RefreshBalance(context.Background(), sess)
	if err != nil {
		s.serverFault(c, eventCreateRoom, err)
		return
	}
	if balance < stake {
		s.reject(c, eventCreateRoom, reasonInsufficientFunds)
		return
	}

	snap, err := s.rooms.Create(c.id, payload.GameKind, stake)
	if err != nil {
		s.reject(c, eventCreateRoom, reasonFor(err))
		return
	}
	s.sendTo(c, envelope(eventRoomCreated, struct {
		Room roomView `json:"room"`
	}{Room: s.viewOfRoom(snap)}))
	s.pushRoomList()
}

// handleJoinRoom seats the caller in an existing room, starting the match
// when the second seat fills.
func (s *Server) handleJoinRoom(c *client, raw []byte) {
	sess := s.requireSession(c, eventJoinRoom)
	if sess == nil {
		return
	}
	var payload joinRoomPayload
	if err := decodePayload(raw, &payload); err != nil {
		s.reject(c, eventJoinRoom, reasonBadRequest)
		return
	}

	//1.- Gate on funds before seating: the room's stake comes from its
	// snapshot, and the balance is refreshed from the ledger first.
	target, err := s.rooms.Get(payload.RoomID)
	if err != nil {
		s.reject(c, eventJoinRoom, reasonFor(err))
		return
	}
	balance, err := s.sessions.RefreshBalance(context.Background(), sess)
	if err != nil {
		s.serverFault(c, eventJoinRoom, err)
		return
	}
	if balance < target.Stake {
		s.reject(c, eventJoinRoom, reasonInsufficientFunds)
		return
	}

	snap, started, err := s.rooms.Join(c.id, payload.RoomID)
	if err != nil {
		s.reject(c, eventJoinRoom, reasonFor(err))
		return
	}

	//2.- Everyone seated hears about the membership change; the whole server
	// sees the room leave the open list when the match starts.
	view := s.viewOfRoom(snap)
	s.broadcastRoom(snap, envelope(eventRoomJoined, struct {
		Room   roomView `json:"room"`
		Player string   `json:"player"`
	}{Room: view, Player: sess.DisplayName}))
	if started {
		s.broadcastRoom(snap, envelope(eventMatchStarted, struct {
			Room roomView `json:"room"`
		}{Room: view}))
	}
	s.pushRoomList()
}

// handleSubmitMove records a move and, when it completes the pair, settles
// the round: ledger writes first, then the room commit, then broadcasts.
func (s *Server) handleSubmitMove(c *client, raw []byte) {
	sess := s.requireSession(c, eventSubmitMove)
	if sess == nil {
		return
	}
	var payload submitMovePayload
	if err := decodePayload(raw, &payload); err != nil {
		s.reject(c, eventSubmitMove, reasonBadRequest)
		return
	}
	move, err := game.ParseMove(payload.Move)
	if err != nil {
		s.reject(c, eventSubmitMove, reasonFor(err))
		return
	}

	resolution, err := s.rooms.SubmitMove(c.id, payload.RoomID, move)
	if err != nil {
		s.reject(c, eventSubmitMove, reasonFor(err))
		return
	}
	if resolution == nil {
		// First move of the pair: acknowledge privately, reveal nothing.
		s.sendTo(c, envelope(eventMoveAck, struct {
			RoomID string `json:"room_id"`
		}{RoomID: payload.RoomID}))
		return
	}
	s.settleRound(c, resolution)
}

// settleRound applies one resolved round. The room is still mid-play when
// this runs; it is only committed after every ledger write has succeeded, so
// a storage failure leaves balances and room state exactly as they were.
func (s *Server) settleRound(c *client, res *room.Resolution) {
	ctx := context.Background()
	first := s.sessions.ByConnection(res.Participants[0])
	second := s.sessions.ByConnection(res.Participants[1])
	if first == nil || second == nil {
		s.serverFault(c, eventSubmitMove, errors.New("participant session missing"))
		return
	}

	outcome := game.Resolve(res.Moves[0], res.Moves[1], res.Room.Stake)

	if !outcome.Draw {
		//1.- Refresh both balances from the ledger so the deltas apply to the
		// durable values, not possibly-stale caches.
		players := [2]*session.Session{first, second}
		var fresh [2]int64
		for i, p := range players {
			value, err := s.sessions.RefreshBalance(ctx, p)
			if err != nil {
				s.serverFault(c, eventSubmitMove, err)
				return
			}
			fresh[i] = value
		}
		//2.- Debit the loser before crediting the winner; an interruption
		// between the two writes can only destroy points, never mint them.
		loser, winner := players[outcome.Loser], players[outcome.Winner]
		if err := s.sessions.UpdateBalance(ctx, loser, fresh[outcome.Loser]+outcome.Deltas[outcome.Loser]); err != nil {
			s.serverFault(c, eventSubmitMove, err)
			return
		}
		if err := s.sessions.UpdateBalance(ctx, winner, fresh[outcome.Winner]+outcome.Deltas[outcome.Winner]); err != nil {
			//3.- Hand the debited stake back before aborting: the round stays
			// open for a retry, which must start from the pre-round balances.
			if restoreErr := s.sessions.UpdateBalance(ctx, loser, fresh[outcome.Loser]); restoreErr != nil {
				s.log.Error("settlement rollback failed",
					logging.String("room_id", res.Room.ID),
					logging.String("account_id", loser.AccountID),
					logging.Error(restoreErr))
			}
			s.serverFault(c, eventSubmitMove, err)
			return
		}
		s.pointsMoved.Add(res.Room.Stake)
	}

	//4.- Ledger writes are durable; now commit the room transition.
	snap, err := s.rooms.Settle(res.Room.ID, outcome.Draw)
	if err != nil {
		s.serverFault(c, eventSubmitMove, err)
		return
	}
	s.matchesSettled.Add(1)

	settled := settledView{
		Room: s.viewOfRoom(snap),
		Draw: outcome.Draw,
		Moves: map[string]string{
			first.DisplayName:  string(res.Moves[0]),
			second.DisplayName: string(res.Moves[1]),
		},
		Balances: map[string]int64{
			first.AccountID:  first.Balance,
			second.AccountID: second.Balance,
		},
	}
	if !outcome.Draw {
		players := [2]*session.Session{first, second}
		settled.Winner = players[outcome.Winner].DisplayName
		settled.Loser = players[outcome.Loser].DisplayName
	}
	s.broadcastRoom(snap, envelope(eventMatchSettled, settled))
	if outcome.Draw {
		s.broadcastRoom(snap, envelope(eventMatchContinues, struct {
			Room roomView `json:"room"`
		}{Room: s.viewOfRoom(snap)}))
	} else {
		s.pushRoster()
	}
	s.log.Info("round settled",
		logging.String("room_id", snap.ID),
		logging.String("game", snap.GameKind),
		logging.Int64("stake", snap.Stake))
}

// handleLeaveRoom removes the caller from its room without ending the
// session; remaining members and the room list are notified.
func (s *Server) handleLeaveRoom(c *client) {
	sess := s.requireSession(c, eventLeaveRoom)
	if sess == nil {
		return
	}
	departure, ok := s.rooms.Leave(c.id)
	if !ok {
		s.reject(c, eventLeaveRoom, reasonNotAMember)
		return
	}
	left := envelope(eventMemberLeft, struct {
		Room   roomView `json:"room"`
		Player string   `json:"player"`
		Reason string   `json:"reason"`
	}{Room: s.viewOfRoom(departure.Room), Player: sess.DisplayName, Reason: "left"})
	s.sendTo(c, left)
	if !departure.Deleted {
		s.broadcastRoom(departure.Room, left)
	}
	s.pushRoomList()
}

// handleTransfer moves points between two online accounts: validate, refresh,
// debit, credit, then notify both parties and rebroadcast the roster.
func (s *Server) handleTransfer(c *client, raw []byte) {
	sess := s.requireSession(c, eventTransfer)
	if sess == nil {
		return
	}
	var payload transferPayload
	if err := decodePayload(raw, &payload); err != nil {
		s.reject(c, eventTransfer, reasonBadRequest)
		return
	}
	if payload.Amount <= 0 {
		s.reject(c, eventTransfer, reasonInvalidAmount)
		return
	}
	//1.- Account ids are unique, display names are not; resolve the exact
	// identifier first and fall back to an unambiguous name.
	recipient := s.sessions.ByAccount(payload.Target)
	if recipient == nil {
		recipient = s.sessions.ByDisplayName(payload.Target)
	}
	if recipient == nil {
		s.reject(c, eventTransfer, reasonRecipientOffline)
		return
	}
	if recipient.ConnID == c.id {
		s.reject(c, eventTransfer, reasonBadRequest)
		return
	}

	ctx := context.Background()
	senderBalance, err := s.sessions.RefreshBalance(ctx, sess)
	if err != nil {
		s.serverFault(c, eventTransfer, err)
		return
	}
	if senderBalance < payload.Amount {
		s.reject(c, eventTransfer, reasonInsufficientFunds)
		return
	}
	recipientBalance, err := s.sessions.RefreshBalance(ctx, recipient)
	if err != nil {
		s.serverFault(c, eventTransfer, err)
		return
	}

	//2.- Debit first so a failure between the writes can only lose the
	// transferred amount, never duplicate it.
	if err := s.sessions.UpdateBalance(ctx, sess, senderBalance-payload.Amount); err != nil {
		s.serverFault(c, eventTransfer, err)
		return
	}
	if err := s.sessions.UpdateBalance(ctx, recipient, recipientBalance+payload.Amount); err != nil {
		//3.- Best effort to hand the debited amount back; if this write also
		// fails the durable record still never exceeds the funds that existed.
		if restoreErr := s.sessions.UpdateBalance(ctx, sess, senderBalance); restoreErr != nil {
			s.log.Error("transfer rollback failed",
				logging.String("account_id", sess.AccountID),
				logging.Error(restoreErr))
		}
		s.serverFault(c, eventTransfer, err)
		return
	}
	s.pointsMoved.Add(payload.Amount)

	s.log.Info("points transferred",
		logging.String("from", sess.AccountID),
		logging.String("to", recipient.AccountID),
		logging.Int64("amount", payload.Amount))

	s.sendTo(c, envelope(eventTransferSent, struct {
		Self userView `json:"self"`
	}{Self: viewOfSession(sess)}))
	s.sendToConn(recipient.ConnID, envelope(eventTransferReceived, struct {
		Self userView `json:"self"`
	}{Self: viewOfSession(recipient)}))
	s.pushRoster()
}
