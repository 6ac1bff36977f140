package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realm-tycoon/economy-server/internal/auth"
	"github.com/realm-tycoon/economy-server/internal/domain"
	"github.com/realm-tycoon/economy-server/internal/service"
)

func setupEnv(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("ECONOMY_CONFIG", "")
	t.Setenv("ECONOMY_AUTH_SECRET", "cli-secret")
	t.Setenv("ECONOMY_STORE_DRIVER", "redis")
	t.Setenv("ECONOMY_REDIS_ADDR", mr.Addr())
	t.Setenv("ECONOMY_LOG_LEVEL", "error")
	return mr
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "token", "alice")
	require.NoError(t, err)

	id, err := auth.NewSigner("cli-secret", 0).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
}

func TestSeedValidateScan(t *testing.T) {
	setupEnv(t)

	players := []domain.Player{
		{ID: "honest", Name: "Honest", Gold: 100},
		{ID: "broken", Name: "Broken", Gold: -5},
		{ID: "rich", Name: "Rich", Gold: 50_000_000, Stats: domain.PlayerStats{TotalPlayTime: 3600}},
	}
	data, err := json.Marshal(players)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "players.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	out, err := execute(t, "seed", path)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 3 players")

	out, err = execute(t, "validate", "broken")
	require.NoError(t, err)
	var resp domain.ValidatePlayerResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Issues)

	// the correction was persisted
	out, err = execute(t, "validate", "broken")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Valid)

	out, err = execute(t, "scan")
	require.NoError(t, err)
	var result service.ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 3, result.PlayersScanned)
	assert.Equal(t, 1, result.ReportsFiled)

	out, err = execute(t, "reports", "rich")
	require.NoError(t, err)
	var reports []domain.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "Impossible gold gain rate", reports[0].Reason)
}

func TestValidateUnknownPlayer(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "validate", "ghost")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestSendScoreRequiresKafka(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "send-score", "alice", "gold", "10")
	assert.ErrorContains(t, err, "kafka is not enabled")

	_, err = execute(t, "send-score", "alice", "dragons", "10")
	assert.ErrorIs(t, err, domain.ErrInvalidCategory)
}

func TestMissingSecretFails(t *testing.T) {
	setupEnv(t)
	t.Setenv("ECONOMY_AUTH_SECRET", "")
	_, err := execute(t, "token", "alice")
	assert.ErrorContains(t, err, "auth.secret is required")
}
