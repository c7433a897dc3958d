package session

import "github.com/diceaviator/gamelink/internal/protocol"

// Event is the sealed union of state transitions the store accepts.
type Event interface{ isSessionEvent() }

// BalanceUpdated replaces balance and currency atomically.
type BalanceUpdated struct {
	Balance  float64
	Currency string
}

// GamesRefreshed replaces the active game list wholesale. A selection whose
// id is absent from the new list is cleared, never left dangling.
type GamesRefreshed struct {
	Games []protocol.Game
}

// GameSelected moves the selection to the given game id. The id must resolve
// into the current active list or the transition is refused.
type GameSelected struct {
	GameID int64
}

// SelectionCleared drops the current selection.
type SelectionCleared struct{}

// RollAccepted marks a roll as in flight. Refused if one already is.
type RollAccepted struct{}

// RollResolved records the outcome of the in-flight roll. Resolutions for a
// game other than the current selection are discarded.
type RollResolved struct {
	GameID   int64
	Score    int
	RecordID string
}

// RollRejected clears the in-flight flag and surfaces the reason.
type RollRejected struct {
	Reason RejectReason
}

// RecentRollsLoaded replaces the bounded recent-roll history.
type RecentRollsLoaded struct {
	Rolls []protocol.RecentRoll
}

func (BalanceUpdated) isSessionEvent()    {}
func (GamesRefreshed) isSessionEvent()    {}
func (GameSelected) isSessionEvent()      {}
func (SelectionCleared) isSessionEvent()  {}
func (RollAccepted) isSessionEvent()      {}
func (RollResolved) isSessionEvent()      {}
func (RollRejected) isSessionEvent()      {}
func (RecentRollsLoaded) isSessionEvent() {}

// RejectReason explains why a roll did not go through. Reasons are
// user-correctable signals, not errors.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectNoSelection      RejectReason = "no-selection"
	RejectNotConnected     RejectReason = "not-connected"
	RejectAlreadyInFlight  RejectReason = "already-in-flight"
	RejectStaleSubmission  RejectReason = "stale-submission"
	RejectEncryptionFailed RejectReason = "encryption-failed"
	RejectTimeout          RejectReason = "timeout"
)
