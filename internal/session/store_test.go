package session

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diceaviator/gamelink/internal/protocol"
)

func testGames() []protocol.Game {
	return []protocol.Game{
		{ID: 1, Stake: 50, Currency: "NGN", Status: protocol.GameStatusOpen},
		{ID: 2, Stake: 100, Currency: "NGN", Status: protocol.GameStatusOpen},
	}
}

func TestBalanceUpdated(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())

	s.Apply(BalanceUpdated{Balance: 1250.5, Currency: "NGN"})

	st := s.Snapshot()
	assert.Equal(t, 1250.5, st.Balance)
	assert.Equal(t, "NGN", st.Currency)
}

func TestGamesRefreshedReplacesWholesale(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())

	s.Apply(GamesRefreshed{Games: testGames()})
	require.Len(t, s.Snapshot().ActiveGames, 2)

	s.Apply(GamesRefreshed{Games: []protocol.Game{{ID: 3, Stake: 200}}})
	st := s.Snapshot()
	require.Len(t, st.ActiveGames, 1)
	assert.Equal(t, int64(3), st.ActiveGames[0].ID)
}

func TestGamesRefreshedClearsDanglingSelection(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	s.Apply(GamesRefreshed{Games: testGames()})
	s.Apply(GameSelected{GameID: 2})
	require.Equal(t, int64(2), s.Snapshot().SelectedGameID)

	s.Apply(GamesRefreshed{Games: []protocol.Game{{ID: 1, Stake: 50}}})

	assert.Zero(t, s.Snapshot().SelectedGameID)
}

func TestGamesRefreshedKeepsValidSelection(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	s.Apply(GamesRefreshed{Games: testGames()})
	s.Apply(GameSelected{GameID: 2})

	s.Apply(GamesRefreshed{Games: testGames()})

	assert.Equal(t, int64(2), s.Snapshot().SelectedGameID)
}

func TestGameSelectedUnknownIDRefused(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	s.Apply(GamesRefreshed{Games: testGames()})

	s.Apply(GameSelected{GameID: 99})

	assert.Zero(t, s.Snapshot().SelectedGameID)
}

func TestRollAcceptedRefusesDoubleSet(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())

	s.Apply(RollAccepted{})
	require.True(t, s.Snapshot().RollInFlight)

	s.Apply(RollAccepted{})
	assert.True(t, s.Snapshot().RollInFlight)
}

func TestRollResolvedAppliesForSelectedGame(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock)
	s.Apply(GamesRefreshed{Games: testGames()})
	s.Apply(GameSelected{GameID: 2})
	s.Apply(RollAccepted{})

	s.Apply(RollResolved{GameID: 2, Score: 4, RecordID: "rec-1"})

	st := s.Snapshot()
	assert.False(t, st.RollInFlight)
	require.NotNil(t, st.LastRollResult)
	assert.Equal(t, 4, st.LastRollResult.Score)
	assert.Equal(t, "rec-1", st.LastRollResult.RecordID)
	assert.Equal(t, clock.Now(), st.LastRollResult.ResolvedAt)
	assert.Equal(t, []int{4}, st.RecentRolls)
}

func TestRollResolvedStaleGameIDIsNoOp(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	s.Apply(GamesRefreshed{Games: testGames()})
	s.Apply(GameSelected{GameID: 2})
	s.Apply(RollAccepted{})

	before := s.Snapshot()
	s.Apply(RollResolved{GameID: 1, Score: 6, RecordID: "rec-stale"})
	after := s.Snapshot()

	assert.Equal(t, before, after)
	assert.True(t, after.RollInFlight)
}

func TestRollResolvedWithoutInFlightIsNoOp(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	s.Apply(GamesRefreshed{Games: testGames()})
	s.Apply(GameSelected{GameID: 2})

	before := s.Snapshot()
	s.Apply(RollResolved{GameID: 2, Score: 4})
	after := s.Snapshot()

	assert.Equal(t, before, after)
}

func TestRollRejectedClearsInFlight(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	s.Apply(RollAccepted{})

	s.Apply(RollRejected{Reason: RejectTimeout})

	st := s.Snapshot()
	assert.False(t, st.RollInFlight)
	assert.Equal(t, RejectTimeout, st.LastRejectReason)
	assert.Empty(t, st.RecentRolls)
	assert.Zero(t, st.Balance)
}

func TestRecentRollsPrependAndCap(t *testing.T) {
	s := NewStoreWithCap(clockwork.NewFakeClock(), 3)
	s.Apply(GamesRefreshed{Games: testGames()})
	s.Apply(GameSelected{GameID: 1})

	for score := 1; score <= 5; score++ {
		s.Apply(RollAccepted{})
		s.Apply(RollResolved{GameID: 1, Score: score})
	}

	assert.Equal(t, []int{5, 4, 3}, s.Snapshot().RecentRolls)
}

func TestRecentRollsLoadedReplacesHistory(t *testing.T) {
	s := NewStoreWithCap(clockwork.NewFakeClock(), 3)

	s.Apply(RecentRollsLoaded{Rolls: []protocol.RecentRoll{
		{Score: 6}, {Score: 2}, {Score: 5}, {Score: 1},
	}})

	assert.Equal(t, []int{6, 2, 5}, s.Snapshot().RecentRolls)
}

func TestSelectedGameResolvesByID(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	s.Apply(GamesRefreshed{Games: testGames()})
	s.Apply(GameSelected{GameID: 2})

	// Replace the list with equal ids but new objects; selection survives.
	s.Apply(GamesRefreshed{Games: testGames()})

	g, ok := s.Snapshot().SelectedGame()
	require.True(t, ok)
	assert.Equal(t, int64(2), g.ID)
	assert.Equal(t, float64(100), g.Stake)
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	s.Apply(GamesRefreshed{Games: testGames()})

	st := s.Snapshot()
	st.ActiveGames[0].ID = 999

	assert.Equal(t, int64(1), s.Snapshot().ActiveGames[0].ID)
}
