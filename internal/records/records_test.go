package records

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realm-tycoon/economy-server/internal/domain"
	"github.com/realm-tycoon/economy-server/internal/store"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "players_alice", PlayerKey("alice"))
	assert.Equal(t, "trades_bob_trd_1_abc", TradeKey("bob", "trd_1_abc"))
	assert.Equal(t, "inbox_alice", InboxKey("alice"))
	assert.Equal(t, "reports_rpt_1", ReportKey("rpt_1"))
}

func TestPlayerRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemoryStore())

	_, err := repo.GetPlayer(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	require.NoError(t, repo.PutPlayer(ctx, &domain.Player{ID: "alice", Gold: 42}))
	require.NoError(t, repo.PutPlayer(ctx, &domain.Player{ID: "bob", Gold: 7}))

	p, err := repo.GetPlayer(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.Gold)

	players, skipped, err := repo.ListPlayers(ctx)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, players, 2)
	assert.Equal(t, "alice", players[0].ID)
}

func TestListPlayersSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	repo := NewRepository(mem)

	require.NoError(t, mem.Set(ctx, PlayerKey("broken"), []byte("{not json")))
	require.NoError(t, mem.Set(ctx, PlayerKey("legacy"), []byte(`{"gold":3}`)))

	players, skipped, err := repo.ListPlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, players, 1)
	assert.Equal(t, "legacy", players[0].ID)
}

func TestTradeQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemoryStore())

	trades := []domain.Trade{
		{TradeID: "t1", SenderID: "alice", TargetID: "bob", Status: domain.TradeStatusPending},
		{TradeID: "t2", SenderID: "alice", TargetID: "carol", Status: domain.TradeStatusPending},
		{TradeID: "t3", SenderID: "alice", TargetID: "bob", Status: domain.TradeStatusCompleted},
		{TradeID: "t4", SenderID: "carol", TargetID: "bob", Status: domain.TradeStatusPending},
	}
	for i := range trades {
		require.NoError(t, repo.PutTrade(ctx, &trades[i]))
	}

	n, err := repo.CountPendingTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := repo.PendingTradesFor(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "t1", pending[0].TradeID)
	assert.Equal(t, "t4", pending[1].TradeID)

	_, err = repo.GetTrade(ctx, "carol", "t1")
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestEmptyDocuments(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemoryStore())

	inbox, err := repo.GetInbox(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, inbox)
	assert.Empty(t, inbox)

	lb, err := repo.GetLeaderboard(ctx)
	require.NoError(t, err)
	assert.NotNil(t, lb)
	assert.Empty(t, lb[domain.CategoryGold])
}

func TestFileReports(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemoryStore())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.FileReports(ctx, []domain.Report{
		{ID: "rpt_1", ReporterID: domain.SystemReporterID, ReportedPlayerID: "alice", Reason: "Impossible craft count", AutoDetected: true, Status: domain.ReportStatusPending, CreatedAt: now},
		{ID: "rpt_2", ReporterID: "bob", ReportedPlayerID: "carol", Reason: "spam", Status: domain.ReportStatusPending, CreatedAt: now},
	}))

	all, err := repo.ListReports(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	alice, err := repo.ListReports(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.True(t, alice[0].AutoDetected)
	assert.Equal(t, domain.SystemReporterID, alice[0].ReporterID)
}

// matchingStore answers field queries itself and counts full prefix scans.
type matchingStore struct {
	*store.MemoryStore
	scans   int
	matches int
}

func (m *matchingStore) Scan(ctx context.Context, prefix string) ([]store.Document, error) {
	m.scans++
	return m.MemoryStore.Scan(ctx, prefix)
}

func (m *matchingStore) ScanMatching(ctx context.Context, prefix string, fields map[string]string) ([]store.Document, error) {
	m.matches++
	docs, err := m.MemoryStore.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var out []store.Document
	for _, d := range docs {
		var v map[string]interface{}
		if err := json.Unmarshal(d.Value, &v); err != nil {
			continue
		}
		ok := true
		for k, want := range fields {
			if v[k] != want {
				ok = false
			}
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *matchingStore) CountMatching(ctx context.Context, prefix string, fields map[string]string) (int, error) {
	docs, err := m.ScanMatching(ctx, prefix, fields)
	return len(docs), err
}

func TestPendingTradeQueriesUseMatcher(t *testing.T) {
	ctx := context.Background()
	ms := &matchingStore{MemoryStore: store.NewMemoryStore()}
	repo := NewRepository(ms)

	trades := []domain.Trade{
		{TradeID: "trd_1", SenderID: "alice", TargetID: "bob", Status: domain.TradeStatusPending},
		{TradeID: "trd_2", SenderID: "alice", TargetID: "carol", Status: domain.TradeStatusPending},
		{TradeID: "trd_3", SenderID: "alice", TargetID: "bob", Status: domain.TradeStatusCompleted},
		{TradeID: "trd_4", SenderID: "carol", TargetID: "bob", Status: domain.TradeStatusPending},
	}
	for i := range trades {
		require.NoError(t, repo.PutTrade(ctx, &trades[i]))
	}

	n, err := repo.CountPendingTrades(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := repo.PendingTradesFor(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.ElementsMatch(t, []string{"trd_1", "trd_4"}, []string{pending[0].TradeID, pending[1].TradeID})

	assert.Zero(t, ms.scans)
	assert.Equal(t, 2, ms.matches)
}
