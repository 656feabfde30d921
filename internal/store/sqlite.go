package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/finscope/profiler-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// local and single-node runs; the upsert/append semantics match Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS profiles (
	facebook_id        TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	bio                TEXT NOT NULL DEFAULT '',
	location           TEXT NOT NULL DEFAULT '',
	work               TEXT NOT NULL DEFAULT '',
	education          TEXT NOT NULL DEFAULT '',
	profile_url        TEXT NOT NULL,
	posts_sample       TEXT NOT NULL DEFAULT '[]',
	last_fetched       DATETIME NOT NULL,
	fetched_by_account TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS analyses (
	id                TEXT PRIMARY KEY,
	profile_id        TEXT NOT NULL REFERENCES profiles(facebook_id),
	status            TEXT NOT NULL,
	confidence        REAL NOT NULL,
	summary           TEXT NOT NULL DEFAULT '',
	indicators        TEXT,
	model             TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS source_accounts (
	id             TEXT PRIMARY KEY,
	credential_ref TEXT NOT NULL DEFAULT '',
	blocked        INTEGER NOT NULL DEFAULT 0,
	cooldown_until DATETIME,
	last_used_at   DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_profiles_last_fetched ON profiles(last_fetched);
CREATE INDEX IF NOT EXISTS idx_profiles_fetched_by ON profiles(fetched_by_account);
CREATE INDEX IF NOT EXISTS idx_analyses_profile_id ON analyses(profile_id, created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	now := time.Now().UTC()
	if p.LastFetched.IsZero() {
		p.LastFetched = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	posts, err := json.Marshal(p.PostsSample)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal posts sample")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (facebook_id, name, bio, location, work, education, profile_url, posts_sample, last_fetched, fetched_by_account, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (facebook_id) DO UPDATE SET
			name = excluded.name, bio = excluded.bio, location = excluded.location,
			work = excluded.work, education = excluded.education, profile_url = excluded.profile_url,
			posts_sample = excluded.posts_sample,
			last_fetched = MAX(profiles.last_fetched, excluded.last_fetched),
			fetched_by_account = excluded.fetched_by_account, updated_at = excluded.updated_at`,
		p.FacebookID, p.Name, p.Bio, p.Location, p.Work, p.Education,
		p.ProfileURL, string(posts), p.LastFetched, p.FetchedByAccount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert profile")
	}
	return s.GetProfile(ctx, p.FacebookID)
}

const sqliteProfileCols = `facebook_id, name, bio, location, work, education, profile_url, posts_sample, last_fetched, fetched_by_account, created_at, updated_at`

func (s *SQLiteStore) GetProfile(ctx context.Context, facebookID string) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProfileCols+` FROM profiles WHERE facebook_id = ?`, facebookID)
	p, err := scanSQLiteProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "sqlite: profile %s", facebookID)
		}
		return nil, eris.Wrap(err, "sqlite: get profile")
	}
	return p, nil
}

func (s *SQLiteStore) GetProfiles(ctx context.Context, facebookIDs []string) ([]model.Profile, error) {
	if len(facebookIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + sqliteProfileCols + ` FROM profiles WHERE facebook_id IN (?` + repeatPlaceholder(len(facebookIDs)-1) + `)`
	args := make([]any, len(facebookIDs))
	for i, id := range facebookIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get profiles")
	}
	defer rows.Close()
	return collectSQLiteProfiles(rows)
}

func (s *SQLiteStore) ListRecentProfiles(ctx context.Context, filter ProfileFilter) ([]model.Profile, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sqliteProfileCols + ` FROM profiles`
	var args []any
	if filter.AccountID != "" {
		query += ` WHERE fetched_by_account = ?`
		args = append(args, filter.AccountID)
	}
	query += ` ORDER BY last_fetched DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent profiles")
	}
	defer rows.Close()
	return collectSQLiteProfiles(rows)
}

const sqliteAnalysisCols = `id, profile_id, status, confidence, summary, indicators, model, prompt_tokens, completion_tokens, total_tokens, created_at`

func (s *SQLiteStore) AppendAnalysis(ctx context.Context, a *model.Analysis) (*model.Analysis, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	indicators, err := json.Marshal(a.Indicators)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal indicators")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (`+sqliteAnalysisCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProfileID, string(a.Status), a.Confidence, a.Summary, string(indicators),
		a.Model, a.Usage.PromptTokens, a.Usage.CompletionTokens, a.Usage.TotalTokens, a.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: append analysis")
	}
	return a, nil
}

func (s *SQLiteStore) LatestAnalysis(ctx context.Context, facebookID string) (*model.Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteAnalysisCols+` FROM analyses WHERE profile_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		facebookID)
	a, err := scanSQLiteAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "sqlite: latest analysis for %s", facebookID)
		}
		return nil, eris.Wrap(err, "sqlite: latest analysis")
	}
	return a, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, facebookID string) ([]model.Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteAnalysisCols+` FROM analyses WHERE profile_id = ? ORDER BY created_at DESC`, facebookID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close()
	return collectSQLiteAnalyses(rows)
}

func (s *SQLiteStore) ListRecentAnalyses(ctx context.Context, limit int) ([]model.Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteAnalysisCols+` FROM analyses ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent analyses")
	}
	defer rows.Close()
	return collectSQLiteAnalyses(rows)
}

func (s *SQLiteStore) AnalysisStats(ctx context.Context) (*model.AnalysisStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), AVG(confidence) FROM analyses GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: analysis stats")
	}
	defer rows.Close()

	stats := &model.AnalysisStats{ByStatus: make(map[model.FinancialStatus]model.StatusStats)}
	var totalCount int
	var weightedConfidence float64
	for rows.Next() {
		var status string
		var count int
		var avg sql.NullFloat64
		if err := rows.Scan(&status, &count, &avg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats row")
		}
		stats.ByStatus[model.FinancialStatus(status)] = model.StatusStats{Count: count, AvgConfidence: avg.Float64}
		totalCount += count
		weightedConfidence += float64(count) * avg.Float64
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats rows")
	}

	stats.Total.Count = totalCount
	if totalCount > 0 {
		stats.Total.AvgConfidence = weightedConfidence / float64(totalCount)
	}
	return stats, nil
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, limit int) ([]CandidateRow, error) {
	if limit <= 0 {
		limit = -1 // sqlite: negative LIMIT returns all rows
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.facebook_id, p.last_fetched,
			(p.name <> '' OR p.bio <> '' OR p.work <> '' OR p.education <> '' OR p.location <> '' OR json_array_length(p.posts_sample) > 0),
			a.created_at, a.confidence
		 FROM profiles p
		 LEFT JOIN (
			SELECT profile_id, MAX(created_at) AS created_at, confidence FROM analyses GROUP BY profile_id
		 ) a ON a.profile_id = p.facebook_id
		 ORDER BY a.created_at IS NOT NULL, a.created_at ASC, p.last_fetched ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close()

	var out []CandidateRow
	for rows.Next() {
		var c CandidateRow
		var analyzedAt sql.NullTime
		var confidence sql.NullFloat64
		if err := rows.Scan(&c.FacebookID, &c.LastFetched, &c.HasContent, &analyzedAt, &confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		if analyzedAt.Valid {
			t := analyzedAt.Time
			c.AnalyzedAt = &t
		}
		if confidence.Valid {
			v := confidence.Float64
			c.Confidence = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.SourceAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, credential_ref, blocked, cooldown_until, last_used_at, created_at, updated_at
		 FROM source_accounts WHERE id = ?`, id)

	var a model.SourceAccount
	var cooldown, lastUsed sql.NullTime
	err := row.Scan(&a.ID, &a.CredentialRef, &a.Blocked, &cooldown, &lastUsed, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "sqlite: account %s", id)
		}
		return nil, eris.Wrap(err, "sqlite: get account")
	}
	if cooldown.Valid {
		t := cooldown.Time
		a.CooldownUntil = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		a.LastUsedAt = &t
	}
	return &a, nil
}

func (s *SQLiteStore) SaveAccount(ctx context.Context, a *model.SourceAccount) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_accounts (id, credential_ref, blocked, cooldown_until, last_used_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			credential_ref = excluded.credential_ref, blocked = excluded.blocked,
			cooldown_until = excluded.cooldown_until, last_used_at = excluded.last_used_at,
			updated_at = excluded.updated_at`,
		a.ID, a.CredentialRef, a.Blocked, a.CooldownUntil, a.LastUsedAt, a.CreatedAt, a.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: save account")
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.SourceAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, credential_ref, blocked, cooldown_until, last_used_at, created_at, updated_at
		 FROM source_accounts ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list accounts")
	}
	defer rows.Close()

	var out []model.SourceAccount
	for rows.Next() {
		var a model.SourceAccount
		var cooldown, lastUsed sql.NullTime
		if err := rows.Scan(&a.ID, &a.CredentialRef, &a.Blocked, &cooldown, &lastUsed, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan account")
		}
		if cooldown.Valid {
			t := cooldown.Time
			a.CooldownUntil = &t
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			a.LastUsedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TouchAccount(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE source_accounts SET last_used_at = ?, updated_at = ? WHERE id = ?`, usedAt, usedAt, id)
	return eris.Wrap(err, "sqlite: touch account")
}

// --- scanning helpers ---

type sqliteRow interface {
	Scan(dest ...any) error
}

func scanSQLiteProfile(row sqliteRow) (*model.Profile, error) {
	var p model.Profile
	var posts string
	err := row.Scan(&p.FacebookID, &p.Name, &p.Bio, &p.Location, &p.Work, &p.Education,
		&p.ProfileURL, &posts, &p.LastFetched, &p.FetchedByAccount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if posts != "" {
		if err := json.Unmarshal([]byte(posts), &p.PostsSample); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal posts sample")
		}
	}
	return &p, nil
}

func collectSQLiteProfiles(rows *sql.Rows) ([]model.Profile, error) {
	var out []model.Profile
	for rows.Next() {
		p, err := scanSQLiteProfile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan profile")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanSQLiteAnalysis(row sqliteRow) (*model.Analysis, error) {
	var a model.Analysis
	var status, indicators string
	err := row.Scan(&a.ID, &a.ProfileID, &status, &a.Confidence, &a.Summary, &indicators,
		&a.Model, &a.Usage.PromptTokens, &a.Usage.CompletionTokens, &a.Usage.TotalTokens, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = model.FinancialStatus(status)
	if indicators != "" && indicators != "null" {
		if err := json.Unmarshal([]byte(indicators), &a.Indicators); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal indicators")
		}
	}
	return &a, nil
}

func collectSQLiteAnalyses(rows *sql.Rows) ([]model.Analysis, error) {
	var out []model.Analysis
	for rows.Next() {
		a, err := scanSQLiteAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func repeatPlaceholder(n int) string {
	out := ""
	for range n {
		out += ", ?"
	}
	return out
}
