// Package session holds the client-side session state and the reducer that
// applies server events to it. The store is the only writer of session
// state; every other component reads snapshots.
package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/diceaviator/gamelink/internal/protocol"
)

// DefaultRecentRollsCap bounds the retained roll history, most recent first.
const DefaultRecentRollsCap = 10

// RollOutcome is the last observed roll resolution.
type RollOutcome struct {
	Score      int
	RecordID   string
	ResolvedAt time.Time
}

// State is the synchronized view of the player session. SelectedGameID is a
// reference by id, not by object identity: the game list can be replaced
// underneath it. Zero means no selection.
type State struct {
	Balance          float64
	Currency         string
	ActiveGames      []protocol.Game
	SelectedGameID   int64
	RollInFlight     bool
	LastRollResult   *RollOutcome
	RecentRolls      []int
	LastRejectReason RejectReason
}

// SelectedGame resolves the selection against the active list.
func (s State) SelectedGame() (protocol.Game, bool) {
	if s.SelectedGameID == 0 {
		return protocol.Game{}, false
	}
	for _, g := range s.ActiveGames {
		if g.ID == s.SelectedGameID {
			return g, true
		}
	}
	return protocol.Game{}, false
}

// Store applies session events as synchronous, run-to-completion transitions.
// No transition awaits anything, which keeps the store race-free beyond its
// own mutex.
type Store struct {
	mu    sync.Mutex
	clock clockwork.Clock
	cap   int
	state State
}

// NewStore returns an empty session store. Recent-roll history is capped at
// DefaultRecentRollsCap.
func NewStore(clock clockwork.Clock) *Store {
	return NewStoreWithCap(clock, DefaultRecentRollsCap)
}

// NewStoreWithCap returns an empty store with a custom history cap.
func NewStoreWithCap(clock clockwork.Clock, rollCap int) *Store {
	if rollCap <= 0 {
		rollCap = DefaultRecentRollsCap
	}
	return &Store{clock: clock, cap: rollCap}
}

// Snapshot returns a copy of the current state. Slices are copied so readers
// never observe a mutation in progress.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.state
	out.ActiveGames = append([]protocol.Game(nil), s.state.ActiveGames...)
	out.RecentRolls = append([]int(nil), s.state.RecentRolls...)
	if s.state.LastRollResult != nil {
		r := *s.state.LastRollResult
		out.LastRollResult = &r
	}
	return out
}

// Apply runs one transition. Transitions are total: events that do not apply
// in the current state are discarded (logged, never faulted).
func (s *Store) Apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case BalanceUpdated:
		s.state.Balance = e.Balance
		s.state.Currency = e.Currency

	case GamesRefreshed:
		s.state.ActiveGames = append([]protocol.Game(nil), e.Games...)
		if _, ok := s.state.SelectedGame(); s.state.SelectedGameID != 0 && !ok {
			log.Debug().
				Int64("game_id", s.state.SelectedGameID).
				Msg("selected game no longer advertised, clearing selection")
			s.state.SelectedGameID = 0
		}

	case GameSelected:
		found := false
		for _, g := range s.state.ActiveGames {
			if g.ID == e.GameID {
				found = true
				break
			}
		}
		if !found {
			log.Debug().Int64("game_id", e.GameID).Msg("refusing selection of unknown game")
			return
		}
		s.state.SelectedGameID = e.GameID

	case SelectionCleared:
		s.state.SelectedGameID = 0

	case RollAccepted:
		if s.state.RollInFlight {
			log.Warn().Msg("refusing to double-set roll in flight")
			return
		}
		s.state.RollInFlight = true
		s.state.LastRejectReason = RejectNone

	case RollResolved:
		if !s.state.RollInFlight || e.GameID != s.state.SelectedGameID {
			log.Debug().
				Int64("game_id", e.GameID).
				Int64("selected_game_id", s.state.SelectedGameID).
				Bool("roll_in_flight", s.state.RollInFlight).
				Msg("discarding stale roll resolution")
			return
		}
		s.state.RollInFlight = false
		s.state.LastRollResult = &RollOutcome{
			Score:      e.Score,
			RecordID:   e.RecordID,
			ResolvedAt: s.clock.Now(),
		}
		s.state.RecentRolls = prepend(s.state.RecentRolls, e.Score, s.cap)

	case RollRejected:
		s.state.RollInFlight = false
		s.state.LastRejectReason = e.Reason

	case RecentRollsLoaded:
		rolls := make([]int, 0, min(len(e.Rolls), s.cap))
		for _, r := range e.Rolls {
			if len(rolls) == s.cap {
				break
			}
			rolls = append(rolls, r.Score)
		}
		s.state.RecentRolls = rolls
	}
}

func prepend(rolls []int, score, cap int) []int {
	out := make([]int, 0, min(len(rolls)+1, cap))
	out = append(out, score)
	for _, r := range rolls {
		if len(out) == cap {
			break
		}
		out = append(out, r)
	}
	return out
}
