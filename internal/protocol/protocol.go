package protocol

import (
	"encoding/json"
	"time"
)

// Event names carried on the instant-tournament channel. Inbound event data is
// always an encrypted string; outbound payloads are encrypted before emission.
const (
	// Inbound.
	EventUserBalance    = "get_user_balance"
	EventAvailableGames = "available_instant_tournament_games"
	EventRecentRolls    = "get_player_instant_tournament_recent_rolls"
	EventGamePlayed     = "played_instant_tournament_game"

	// Outbound. EventRecentRolls doubles as the outbound query name.
	EventPlayGame = "play_instant_tournament_game"
)

// Game status values advertised by the server.
const (
	GameStatusOpen      = "open"
	GameStatusClosed    = "closed"
	GameStatusProcessed = "processed"
)

// Envelope is the wire frame exchanged over the WebSocket connection.
// Data carries the encrypted payload for the named event.
type Envelope struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Marshal encodes the envelope to its wire form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Game describes a joinable instant tournament as advertised by the server.
// A Game is immutable once received; refreshes replace the whole list rather
// than patching individual fields.
type Game struct {
	ID                  int64     `json:"id"`
	MerchantID          int64     `json:"merchantId"`
	Name                string    `json:"name"`
	Slug                string    `json:"slug"`
	Stake               float64   `json:"stake"`
	Currency            string    `json:"currency"`
	StartDate           time.Time `json:"startDate"`
	EndDate             time.Time `json:"endDate"`
	Duration            int       `json:"duration"`
	DurationType        string    `json:"durationType"`
	MaxNoOfPlayers      int       `json:"maxNoOfPlayers"`
	Status              string    `json:"status"`
	Processed           bool      `json:"processed"`
	NoOfPlayersJoined   int       `json:"noOfPlayersJoined"`
	AmountToFirst       float64   `json:"amountToFirst"`
	AmountToFirstOnFull float64   `json:"amountToFirstOnFull"`
	Reference           string    `json:"reference"`
	NumberOfWinners     string    `json:"numberOfWinners"`
}

// Joinable reports whether the game is still accepting players.
func (g Game) Joinable() bool {
	return g.Status == GameStatusOpen && !g.Processed
}

// Balance is the payload of EventUserBalance.
type Balance struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// PlayRequest is the payload of EventPlayGame.
type PlayRequest struct {
	StakeAmount         float64 `json:"stakeAmount"`
	InstantTournamentID int64   `json:"instantTournamentId"`
}

// RecentRollsRequest is the outbound payload of EventRecentRolls.
type RecentRollsRequest struct {
	InstantTournamentID int64 `json:"instantTournamentId"`
}

// RollResult is the payload of EventGamePlayed.
type RollResult struct {
	InstantTournamentID int64  `json:"instantTournamentId"`
	Score               int    `json:"score"`
	RecordID            string `json:"recordId"`
}

// RecentRoll is one entry of the inbound EventRecentRolls payload,
// ordered most recent first.
type RecentRoll struct {
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}
