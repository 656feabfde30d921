package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/finscope/profiler-cli/internal/db"
	"github.com/finscope/profiler-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"upsert_profile": `INSERT INTO profiles (facebook_id, name, bio, location, work, education, profile_url, posts_sample, last_fetched, fetched_by_account, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (facebook_id) DO UPDATE SET
			name = EXCLUDED.name, bio = EXCLUDED.bio, location = EXCLUDED.location,
			work = EXCLUDED.work, education = EXCLUDED.education, profile_url = EXCLUDED.profile_url,
			posts_sample = EXCLUDED.posts_sample,
			last_fetched = GREATEST(profiles.last_fetched, EXCLUDED.last_fetched),
			fetched_by_account = EXCLUDED.fetched_by_account, updated_at = EXCLUDED.updated_at`,
	"get_profile":     `SELECT facebook_id, name, bio, location, work, education, profile_url, posts_sample, last_fetched, fetched_by_account, created_at, updated_at FROM profiles WHERE facebook_id = $1`,
	"insert_analysis": `INSERT INTO analyses (id, profile_id, status, confidence, summary, indicators, model, prompt_tokens, completion_tokens, total_tokens, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"latest_analysis": `SELECT id, profile_id, status, confidence, summary, indicators, model, prompt_tokens, completion_tokens, total_tokens, created_at FROM analyses WHERE profile_id = $1 ORDER BY created_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS profiles (
	facebook_id        TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	bio                TEXT NOT NULL DEFAULT '',
	location           TEXT NOT NULL DEFAULT '',
	work               TEXT NOT NULL DEFAULT '',
	education          TEXT NOT NULL DEFAULT '',
	profile_url        TEXT NOT NULL,
	posts_sample       JSONB NOT NULL DEFAULT '[]',
	last_fetched       TIMESTAMPTZ NOT NULL DEFAULT now(),
	fetched_by_account TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analyses (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	profile_id        TEXT NOT NULL REFERENCES profiles(facebook_id),
	status            TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	summary           TEXT NOT NULL DEFAULT '',
	indicators        JSONB,
	model             TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS source_accounts (
	id             TEXT PRIMARY KEY,
	credential_ref TEXT NOT NULL DEFAULT '',
	blocked        BOOLEAN NOT NULL DEFAULT false,
	cooldown_until TIMESTAMPTZ,
	last_used_at   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_profiles_last_fetched ON profiles(last_fetched DESC);
CREATE INDEX IF NOT EXISTS idx_profiles_fetched_by ON profiles(fetched_by_account);
CREATE INDEX IF NOT EXISTS idx_analyses_profile_id ON analyses(profile_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);
`

// Migrate applies the schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal posts sample")
	}

	_, err = s.pool.Exec(ctx, preparedStatements["upsert_profile"],
		p.FacebookID, p.Name, p.Bio, p.Location, p.Work, p.Education,
		p.ProfileURL, posts, p.LastFetched, p.FetchedByAccount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert profile")
	}
	return s.GetProfile(ctx, p.FacebookID)
}

func (s *PostgresStore) GetProfile(ctx context.Context, facebookID string) (*model.Profile, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_profile"], facebookID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "postgres: profile %s", facebookID)
		}
		return nil, eris.Wrap(err, "postgres: get profile")
	}
	return p, nil
}

func (s *PostgresStore) GetProfiles(ctx context.Context, facebookIDs []string) ([]model.Profile, error) {
	if len(facebookIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT facebook_id, name, bio, location, work, education, profile_url, posts_sample, last_fetched, fetched_by_account, created_at, updated_at
		 FROM profiles WHERE facebook_id = ANY($1)`, facebookIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get profiles")
	}
	defer rows.Close()
	return collectProfiles(rows)
}

func (s *PostgresStore) ListRecentProfiles(ctx context.Context, filter ProfileFilter) ([]model.Profile, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT facebook_id, name, bio, location, work, education, profile_url, posts_sample, last_fetched, fetched_by_account, created_at, updated_at
		FROM profiles`
	args := []any{}
	if filter.AccountID != "" {
		query += ` WHERE fetched_by_account = $1 ORDER BY last_fetched DESC LIMIT $2`
		args = append(args, filter.AccountID, limit)
	} else {
		query += ` ORDER BY last_fetched DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent profiles")
	}
	defer rows.Close()
	return collectProfiles(rows)
}

func (s *PostgresStore) AppendAnalysis(ctx context.Context, a *model.Analysis) (*model.Analysis, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	indicators, err := json.Marshal(a.Indicators)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal indicators")
	}

	_, err = s.pool.Exec(ctx, preparedStatements["insert_analysis"],
		a.ID, a.ProfileID, string(a.Status), a.Confidence, a.Summary, indicators,
		a.Model, a.Usage.PromptTokens, a.Usage.CompletionTokens, a.Usage.TotalTokens, a.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: append analysis")
	}
	return a, nil
}

func (s *PostgresStore) LatestAnalysis(ctx context.Context, facebookID string) (*model.Analysis, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["latest_analysis"], facebookID)
	a, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "postgres: latest analysis for %s", facebookID)
		}
		return nil, eris.Wrap(err, "postgres: latest analysis")
	}
	return a, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, facebookID string) ([]model.Analysis, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, profile_id, status, confidence, summary, indicators, model, prompt_tokens, completion_tokens, total_tokens, created_at
		 FROM analyses WHERE profile_id = $1 ORDER BY created_at DESC`, facebookID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analyses")
	}
	defer rows.Close()
	return collectAnalyses(rows)
}

func (s *PostgresStore) ListRecentAnalyses(ctx context.Context, limit int) ([]model.Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, profile_id, status, confidence, summary, indicators, model, prompt_tokens, completion_tokens, total_tokens, created_at
		 FROM analyses ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent analyses")
	}
	defer rows.Close()
	return collectAnalyses(rows)
}

func (s *PostgresStore) AnalysisStats(ctx context.Context) (*model.AnalysisStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*), AVG(confidence) FROM analyses GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: analysis stats")
	}
	defer rows.Close()

	stats := &model.AnalysisStats{ByStatus: make(map[model.FinancialStatus]model.StatusStats)}
	var totalCount int
	var weightedConfidence float64
	for rows.Next() {
		var status string
		var count int
		var avg *float64
		if err := rows.Scan(&status, &count, &avg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats row")
		}
		avgConf := 0.0
		if avg != nil {
			avgConf = *avg
		}
		stats.ByStatus[model.FinancialStatus(status)] = model.StatusStats{Count: count, AvgConfidence: avgConf}
		totalCount += count
		weightedConfidence += float64(count) * avgConf
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats rows")
	}

	stats.Total.Count = totalCount
	if totalCount > 0 {
		stats.Total.AvgConfidence = weightedConfidence / float64(totalCount)
	}
	return stats, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context, limit int) ([]CandidateRow, error) {
	var rowCap any // LIMIT NULL returns all rows
	if limit > 0 {
		rowCap = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.facebook_id, p.last_fetched,
			(p.name <> '' OR p.bio <> '' OR p.work <> '' OR p.education <> '' OR p.location <> '' OR jsonb_array_length(p.posts_sample) > 0),
			a.created_at, a.confidence
		 FROM profiles p
		 LEFT JOIN LATERAL (
			SELECT created_at, confidence FROM analyses
			WHERE profile_id = p.facebook_id
			ORDER BY created_at DESC LIMIT 1
		 ) a ON true
		 ORDER BY a.created_at ASC NULLS FIRST, p.last_fetched ASC
		 LIMIT $1`, rowCap)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []CandidateRow
	for rows.Next() {
		var c CandidateRow
		if err := rows.Scan(&c.FacebookID, &c.LastFetched, &c.HasContent, &c.AnalyzedAt, &c.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: candidate rows")
	}
	return out, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.SourceAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, credential_ref, blocked, cooldown_until, last_used_at, created_at, updated_at
		 FROM source_accounts WHERE id = $1`, id)

	var a model.SourceAccount
	err := row.Scan(&a.ID, &a.CredentialRef, &a.Blocked, &a.CooldownUntil, &a.LastUsedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "postgres: account %s", id)
		}
		return nil, eris.Wrap(err, "postgres: get account")
	}
	return &a, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, a *model.SourceAccount) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO source_accounts (id, credential_ref, blocked, cooldown_until, last_used_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			credential_ref = EXCLUDED.credential_ref, blocked = EXCLUDED.blocked,
			cooldown_until = EXCLUDED.cooldown_until, last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.CredentialRef, a.Blocked, a.CooldownUntil, a.LastUsedAt, a.CreatedAt, a.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: save account")
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.SourceAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, credential_ref, blocked, cooldown_until, last_used_at, created_at, updated_at
		 FROM source_accounts ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list accounts")
	}
	defer rows.Close()

	var out []model.SourceAccount
	for rows.Next() {
		var a model.SourceAccount
		if err := rows.Scan(&a.ID, &a.CredentialRef, &a.Blocked, &a.CooldownUntil, &a.LastUsedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan account")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TouchAccount(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE source_accounts SET last_used_at = $1, updated_at = $1 WHERE id = $2`, usedAt, id)
	return eris.Wrap(err, "postgres: touch account")
}

// --- row scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	var p model.Profile
	var posts []byte
	err := row.Scan(&p.FacebookID, &p.Name, &p.Bio, &p.Location, &p.Work, &p.Education,
		&p.ProfileURL, &posts, &p.LastFetched, &p.FetchedByAccount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(posts) > 0 {
		if err := json.Unmarshal(posts, &p.PostsSample); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal posts sample")
		}
	}
	return &p, nil
}

func collectProfiles(rows pgx.Rows) ([]model.Profile, error) {
	var out []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan profile")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanAnalysis(row rowScanner) (*model.Analysis, error) {
	var a model.Analysis
	var status string
	var indicators []byte
	err := row.Scan(&a.ID, &a.ProfileID, &status, &a.Confidence, &a.Summary, &indicators,
		&a.Model, &a.Usage.PromptTokens, &a.Usage.CompletionTokens, &a.Usage.TotalTokens, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = model.FinancialStatus(status)
	if len(indicators) > 0 && string(indicators) != "null" {
		if err := json.Unmarshal(indicators, &a.Indicators); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal indicators")
		}
	}
	return &a, nil
}

func collectAnalyses(rows pgx.Rows) ([]model.Analysis, error) {
	var out []model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
