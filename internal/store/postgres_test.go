package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finscope/profiler-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func profileColumns() []string {
	return []string{"facebook_id", "name", "bio", "location", "work", "education",
		"profile_url", "posts_sample", "last_fetched", "fetched_by_account", "created_at", "updated_at"}
}

func TestPostgresStore_GetProfile_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT facebook_id, .* FROM profiles WHERE facebook_id = \$1`).
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProfile(context.Background(), "nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProfile(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT facebook_id, .* FROM profiles WHERE facebook_id = \$1`).
		WithArgs("zuck123").
		WillReturnRows(pgxmock.NewRows(profileColumns()).
			AddRow("zuck123", "Mark", "bio text", "Palo Alto", "CEO", "Harvard",
				"https://facebook.com/zuck123", []byte(`["post one","post two"]`), now, "acct-1", now, now))

	p, err := s.GetProfile(context.Background(), "zuck123")
	require.NoError(t, err)
	assert.Equal(t, "zuck123", p.FacebookID)
	assert.Equal(t, []string{"post one", "post two"}, p.PostsSample)
	assert.Equal(t, "acct-1", p.FetchedByAccount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProfile(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO profiles .* ON CONFLICT \(facebook_id\) DO UPDATE SET`).
		WithArgs("zuck123", "Mark", "", "", "", "", "https://facebook.com/zuck123",
			pgxmock.AnyArg(), pgxmock.AnyArg(), "acct-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT facebook_id, .* FROM profiles WHERE facebook_id = \$1`).
		WithArgs("zuck123").
		WillReturnRows(pgxmock.NewRows(profileColumns()).
			AddRow("zuck123", "Mark", "", "", "", "",
				"https://facebook.com/zuck123", []byte(`[]`), now, "acct-1", now, now))

	p, err := s.UpsertProfile(context.Background(), &model.Profile{
		FacebookID:       "zuck123",
		Name:             "Mark",
		ProfileURL:       "https://facebook.com/zuck123",
		FetchedByAccount: "acct-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Mark", p.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAnalysis_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO analyses`).
		WithArgs(pgxmock.AnyArg(), "zuck123", "high", 0.92, "summary", pgxmock.AnyArg(),
			"claude-haiku-4-5-20251001", 100, 50, 150, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	a, err := s.AppendAnalysis(context.Background(), &model.Analysis{
		ProfileID:  "zuck123",
		Status:     model.StatusHigh,
		Confidence: 0.92,
		Summary:    "summary",
		Model:      "claude-haiku-4-5-20251001",
		Usage:      model.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestAnalysis_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, profile_id, .* FROM analyses WHERE profile_id = \$1 ORDER BY created_at DESC LIMIT 1`).
		WithArgs("zuck123").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LatestAnalysis(context.Background(), "zuck123")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AnalysisStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\), AVG\(confidence\) FROM analyses GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "avg"}).
			AddRow("high", 2, ptr(0.9)).
			AddRow("low", 2, ptr(0.5)))

	stats, err := s.AnalysisStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ByStatus[model.StatusHigh].Count)
	assert.Equal(t, 4, stats.Total.Count)
	assert.InDelta(t, 0.7, stats.Total.AvgConfidence, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	analyzed := now.Add(-10 * 24 * time.Hour)
	conf := 0.3

	mock.ExpectQuery(`SELECT p.facebook_id, p.last_fetched`).
		WithArgs(nil).
		WillReturnRows(pgxmock.NewRows([]string{"facebook_id", "last_fetched", "has_content", "created_at", "confidence"}).
			AddRow("never-analyzed", now, true, (*time.Time)(nil), (*float64)(nil)).
			AddRow("low-confidence", now, true, &analyzed, &conf))

	rows, err := s.ListCandidates(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].AnalyzedAt)
	require.NotNil(t, rows[1].Confidence)
	assert.InDelta(t, 0.3, *rows[1].Confidence, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func ptr[T any](v T) *T { return &v }
