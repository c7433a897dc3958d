package client

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/diceaviator/gamelink/internal/channel"
	"github.com/diceaviator/gamelink/internal/protocol"
	"github.com/diceaviator/gamelink/internal/session"
)

// Gate rejection reasons. These are user-correctable signals surfaced for
// feedback and test assertions; they are never logged as errors.
var (
	ErrNoSelection     = errors.New("client: no game selected")
	ErrNotConnected    = errors.New("client: not connected")
	ErrRollInFlight    = errors.New("client: roll already in flight")
	ErrStaleSubmission = errors.New("client: submission invalidated before emission")
)

// RequestRoll is the single entry point for roll intent. It forwards to the
// channel only when a game is selected, the connection is live, and no roll
// is in flight. Encryption may suspend, so preconditions are re-validated
// immediately before emission; a submission invalidated in the meantime is
// suppressed and the in-flight flag reverted.
func (s *Synchronizer) RequestRoll(ctx context.Context) error {
	s.mu.Lock()
	snap := s.store.Snapshot()
	game, selected := snap.SelectedGame()
	switch {
	case !selected:
		s.mu.Unlock()
		return ErrNoSelection
	case s.channel.State() != channel.StateConnected:
		s.mu.Unlock()
		return ErrNotConnected
	case snap.RollInFlight:
		s.mu.Unlock()
		return ErrRollInFlight
	}

	s.store.Apply(session.RollAccepted{})
	s.nextSeq++
	attempt := s.nextSeq
	s.attempt = attempt
	s.mu.Unlock()

	payload := protocol.PlayRequest{
		StakeAmount:         game.Stake,
		InstantTournamentID: game.ID,
	}
	data, err := s.codec.Encrypt(ctx, payload)
	if err != nil {
		s.revertAttempt(attempt, session.RejectEncryptionFailed)
		return err
	}

	if s.preEmit != nil {
		s.preEmit()
	}

	// Encryption was a suspension point; the world may have moved on.
	s.mu.Lock()
	current := s.store.Snapshot()
	switch {
	case s.attempt != attempt, s.stopped:
		s.mu.Unlock()
		return ErrStaleSubmission
	case current.SelectedGameID != game.ID:
		s.mu.Unlock()
		s.revertAttempt(attempt, session.RejectStaleSubmission)
		log.Debug().Int64("game_id", game.ID).Msg("suppressing roll for changed selection")
		return ErrStaleSubmission
	case s.channel.State() != channel.StateConnected:
		s.mu.Unlock()
		s.revertAttempt(attempt, session.RejectNotConnected)
		return ErrNotConnected
	}

	timer := s.clock.AfterFunc(s.cfg.RollTimeout, func() { s.onRollTimeout(attempt) })
	s.rollTimer = timer
	s.mu.Unlock()

	s.channel.Emit(protocol.EventPlayGame, data)
	log.Debug().
		Int64("game_id", game.ID).
		Float64("stake", game.Stake).
		Msg("roll submitted")
	return nil
}

// revertAttempt clears an accepted-but-unsent roll.
func (s *Synchronizer) revertAttempt(attempt uint64, reason session.RejectReason) {
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return
	}
	s.attempt = 0
	if s.rollTimer != nil {
		s.rollTimer.Stop()
		s.rollTimer = nil
	}
	s.mu.Unlock()
	s.store.Apply(session.RollRejected{Reason: reason})
}
