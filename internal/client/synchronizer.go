// Package client assembles the session synchronizer: it bridges the managed
// channel to the session store through the payload codec, and owns the
// action gate for user-triggered rolls.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/diceaviator/gamelink/internal/channel"
	"github.com/diceaviator/gamelink/internal/codec"
	"github.com/diceaviator/gamelink/internal/countdown"
	"github.com/diceaviator/gamelink/internal/protocol"
	"github.com/diceaviator/gamelink/internal/session"
)

// ErrUnknownGame is returned when selecting a game id the server is not
// currently advertising.
var ErrUnknownGame = errors.New("client: unknown game id")

// Config holds synchronizer settings.
type Config struct {
	Identity    channel.Identity
	RollTimeout time.Duration
}

// DefaultConfig returns default synchronizer settings for the identity.
func DefaultConfig(identity channel.Identity) Config {
	return Config{
		Identity:    identity,
		RollTimeout: 15 * time.Second,
	}
}

type autoRoll struct {
	enabled   bool
	remaining int
}

// Synchronizer keeps a session store synchronized with the instant-
// tournament backend and serializes user roll intent through its gate.
type Synchronizer struct {
	cfg       Config
	channel   *channel.Manager
	store     *session.Store
	codec     *codec.Codec
	clock     clockwork.Clock
	projector *countdown.Projector

	mu        sync.Mutex
	started   bool
	stopped   bool
	tokens    []channel.Token
	attempt   uint64 // current in-flight roll attempt, 0 when none
	nextSeq   uint64
	rollTimer clockwork.Timer
	auto      autoRoll

	// preEmit runs between encryption and revalidation; it exists so tests
	// can interleave state changes with an in-flight submission.
	preEmit func()
}

// New creates a synchronizer over the given collaborators.
func New(cfg Config, mgr *channel.Manager, store *session.Store, cdc *codec.Codec, clock clockwork.Clock) *Synchronizer {
	if cfg.RollTimeout <= 0 {
		cfg.RollTimeout = 15 * time.Second
	}
	return &Synchronizer{
		cfg:       cfg,
		channel:   mgr,
		store:     store,
		codec:     cdc,
		clock:     clock,
		projector: countdown.NewProjector(clock),
	}
}

// Start registers the inbound event pipeline and initiates the connection.
func (s *Synchronizer) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("client: already started")
	}
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	handlers := map[string]channel.Handler{
		protocol.EventUserBalance:    s.onBalance,
		protocol.EventAvailableGames: s.onGames,
		protocol.EventRecentRolls:    s.onRecentRolls,
		protocol.EventGamePlayed:     s.onGamePlayed,
	}
	for event, h := range handlers {
		tok, err := s.channel.Subscribe(event, h)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.tokens = append(s.tokens, tok)
		s.mu.Unlock()
	}

	if err := s.channel.Connect(s.cfg.Identity); err != nil {
		return err
	}
	log.Info().Str("client_id", s.cfg.Identity.ClientID).Msg("session synchronizer started")
	return nil
}

// Stop releases subscriptions and disconnects. Decryptions already in
// flight complete but their dispatch becomes a no-op.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.started = false
	tokens := s.tokens
	s.tokens = nil
	s.attempt = 0
	if s.rollTimer != nil {
		s.rollTimer.Stop()
		s.rollTimer = nil
	}
	s.mu.Unlock()

	for _, tok := range tokens {
		s.channel.Unsubscribe(tok)
	}
	s.channel.Disconnect()
	log.Info().Msg("session synchronizer stopped")
}

// Session returns a snapshot of the current session state.
func (s *Synchronizer) Session() session.State {
	return s.store.Snapshot()
}

// ConnectionState exposes the channel state for UI indicators.
func (s *Synchronizer) ConnectionState() channel.ConnectionState {
	return s.channel.State()
}

// StateChanges exposes connection state transitions for UI indicators.
func (s *Synchronizer) StateChanges(buffer int) (<-chan channel.StateChange, channel.Token, error) {
	return s.channel.StateChanges(buffer)
}

// SelectGame moves the selection to the given advertised game.
func (s *Synchronizer) SelectGame(id int64) error {
	snap := s.store.Snapshot()
	found := false
	for _, g := range snap.ActiveGames {
		if g.ID == id {
			found = true
			break
		}
	}
	if !found {
		return ErrUnknownGame
	}
	s.store.Apply(session.GameSelected{GameID: id})
	return nil
}

// ClearSelection drops the current selection.
func (s *Synchronizer) ClearSelection() {
	s.store.Apply(session.SelectionCleared{})
}

// SetAutoRoll arms or disarms automatic re-rolling after each resolution.
// Rounds is the number of additional rolls to submit.
func (s *Synchronizer) SetAutoRoll(enabled bool, rounds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auto = autoRoll{enabled: enabled && rounds > 0, remaining: rounds}
}

// RequestRecentRolls asks the server for the selected game's roll history.
func (s *Synchronizer) RequestRecentRolls(ctx context.Context) error {
	snap := s.store.Snapshot()
	game, ok := snap.SelectedGame()
	if !ok {
		return ErrNoSelection
	}
	if s.channel.State() != channel.StateConnected {
		return ErrNotConnected
	}

	data, err := s.codec.Encrypt(ctx, protocol.RecentRollsRequest{InstantTournamentID: game.ID})
	if err != nil {
		return err
	}
	s.channel.Emit(protocol.EventRecentRolls, data)
	return nil
}

// Countdown starts a countdown sequence for the selected game's end time.
// Cancel the context and call again when the selection changes.
func (s *Synchronizer) Countdown(ctx context.Context) (<-chan countdown.Snapshot, error) {
	game, ok := s.store.Snapshot().SelectedGame()
	if !ok {
		return nil, ErrNoSelection
	}
	return s.projector.Run(ctx, game.EndDate), nil
}

func (s *Synchronizer) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Synchronizer) onBalance(data string) {
	var p protocol.Balance
	if err := s.codec.Decrypt(context.Background(), data, &p); err != nil {
		log.Warn().Err(err).Str("event", protocol.EventUserBalance).Msg("dropping malformed payload")
		return
	}
	if s.isStopped() {
		return
	}
	s.store.Apply(session.BalanceUpdated{Balance: p.Balance, Currency: p.Currency})
}

func (s *Synchronizer) onGames(data string) {
	var games []protocol.Game
	if err := s.codec.Decrypt(context.Background(), data, &games); err != nil {
		log.Warn().Err(err).Str("event", protocol.EventAvailableGames).Msg("dropping malformed payload")
		return
	}
	if s.isStopped() {
		return
	}
	s.store.Apply(session.GamesRefreshed{Games: games})
}

func (s *Synchronizer) onRecentRolls(data string) {
	var rolls []protocol.RecentRoll
	if err := s.codec.Decrypt(context.Background(), data, &rolls); err != nil {
		log.Warn().Err(err).Str("event", protocol.EventRecentRolls).Msg("dropping malformed payload")
		return
	}
	if s.isStopped() {
		return
	}
	s.store.Apply(session.RecentRollsLoaded{Rolls: rolls})
}

func (s *Synchronizer) onGamePlayed(data string) {
	var result protocol.RollResult
	if err := s.codec.Decrypt(context.Background(), data, &result); err != nil {
		log.Warn().Err(err).Str("event", protocol.EventGamePlayed).Msg("dropping malformed payload")
		return
	}
	if s.isStopped() {
		return
	}

	before := s.store.Snapshot()
	s.store.Apply(session.RollResolved{
		GameID:   result.InstantTournamentID,
		Score:    result.Score,
		RecordID: result.RecordID,
	})
	after := s.store.Snapshot()

	if !before.RollInFlight || after.RollInFlight {
		return // stale resolution, already discarded by the store
	}

	s.mu.Lock()
	s.attempt = 0
	if s.rollTimer != nil {
		s.rollTimer.Stop()
		s.rollTimer = nil
	}
	fireAuto := s.auto.enabled
	s.mu.Unlock()

	log.Debug().Int("score", result.Score).Str("record_id", result.RecordID).Msg("roll resolved")

	if fireAuto {
		// Handlers run on the dispatch goroutine; resubmit off it.
		go s.autoRollNext()
	}
}

func (s *Synchronizer) autoRollNext() {
	s.mu.Lock()
	if !s.auto.enabled || s.stopped {
		s.mu.Unlock()
		return
	}
	if s.auto.remaining <= 0 {
		s.auto = autoRoll{}
		s.mu.Unlock()
		return
	}
	s.auto.remaining--
	s.mu.Unlock()

	if err := s.RequestRoll(context.Background()); err != nil {
		log.Warn().Err(err).Msg("auto-roll rejected, disarming")
		s.mu.Lock()
		s.auto = autoRoll{}
		s.mu.Unlock()
	}
}

func (s *Synchronizer) onRollTimeout(attempt uint64) {
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return
	}
	s.attempt = 0
	s.rollTimer = nil
	s.auto = autoRoll{}
	s.mu.Unlock()

	log.Warn().Msg("roll timed out waiting for resolution")
	s.store.Apply(session.RollRejected{Reason: session.RejectTimeout})
}
