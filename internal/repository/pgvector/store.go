package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
)

// Config holds connection parameters for a pgvector store.
type Config struct {
	DSN   string
	Table string
	// TextSearchConfig is the Postgres text search configuration, e.g. "english".
	TextSearchConfig string
	MaxOpenConns     int
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store searches a Postgres table with a pgvector "embedding" column.
type Store struct {
	name       string
	db         *sql.DB
	semanticQ  string
	keywordQ   string
	closeOwned bool
}

var (
	_ provider.Backend         = (*Store)(nil)
	_ provider.KeywordSearcher = (*Store)(nil)
)

// Open connects via lib/pq and prepares the queries.
func Open(name string, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	s, err := New(name, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.closeOwned = true
	return s, nil
}

// New builds a store over an existing connection pool.
func New(name string, db *sql.DB, cfg Config) (*Store, error) {
	table := cfg.Table
	if table == "" {
		table = "documents"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	tsCfg := cfg.TextSearchConfig
	if tsCfg == "" {
		tsCfg = "english"
	}
	if !identRe.MatchString(tsCfg) {
		return nil, fmt.Errorf("invalid text search config %q", tsCfg)
	}
	return &Store{
		name:      name,
		db:        db,
		semanticQ: semanticQuery(pq.QuoteIdentifier(table)),
		keywordQ:  keywordQuery(pq.QuoteIdentifier(table), tsCfg),
	}, nil
}

func semanticQuery(table string) string {
	return `SELECT id, content, metadata, created_at, updated_at, 1 - (embedding <=> $1::vector) AS similarity
FROM ` + table + `
WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1::vector) >= $2
ORDER BY embedding <=> $1::vector
LIMIT $3`
}

func keywordQuery(table, tsCfg string) string {
	return `SELECT id, content, metadata, created_at, updated_at,
	ts_rank_cd(to_tsvector('` + tsCfg + `', content), plainto_tsquery('` + tsCfg + `', $1)) AS rank
FROM ` + table + `
WHERE to_tsvector('` + tsCfg + `', content) @@ plainto_tsquery('` + tsCfg + `', $1)
ORDER BY rank DESC
LIMIT $2`
}

// Name returns the provider id.
func (s *Store) Name() string { return s.name }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(fmt.Errorf("ping: %w", err))
	}
	return nil
}

// Close closes the pool if Open created it.
func (s *Store) Close() error {
	if !s.closeOwned {
		return nil
	}
	return s.db.Close()
}

// SearchByEmbedding runs a cosine-distance KNN query.
func (s *Store) SearchByEmbedding(ctx context.Context, vec []float32, q provider.Query) ([]candidate.Candidate, error) {
	if len(vec) == 0 {
		return nil, failure.Mark(fmt.Errorf("empty query vector: %w", domain.ErrInvalidRequest), failure.Validation)
	}
	rows, err := s.db.QueryContext(ctx, s.semanticQ, vectorLiteral(vec), q.Threshold, q.Limit)
	if err != nil {
		return nil, classify(fmt.Errorf("semantic query: %w", err))
	}
	defer rows.Close()
	return scanCandidates(rows, s.name, func(v float64) float64 { return v })
}

// SearchByText runs a full-text query. ts_rank_cd is unbounded; it is mapped to [0,1) as r/(r+1).
func (s *Store) SearchByText(ctx context.Context, q provider.Query) ([]candidate.Candidate, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []candidate.Candidate{}, nil
	}
	rows, err := s.db.QueryContext(ctx, s.keywordQ, q.Text, q.Limit)
	if err != nil {
		return nil, classify(fmt.Errorf("keyword query: %w", err))
	}
	defer rows.Close()
	return scanCandidates(rows, s.name, func(r float64) float64 {
		if r <= 0 {
			return 0
		}
		return r / (r + 1)
	})
}

// rowScanner is the subset of *sql.Rows used by scanCandidates.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCandidates(rows rowScanner, providerName string, normalize func(float64) float64) ([]candidate.Candidate, error) {
	out := []candidate.Candidate{}
	for rows.Next() {
		var (
			id, content string
			meta        []byte
			created     sql.NullTime
			updated     sql.NullTime
			score       float64
		)
		if err := rows.Scan(&id, &content, &meta, &created, &updated, &score); err != nil {
			return nil, classify(fmt.Errorf("scan row: %w", err))
		}
		var metadata map[string]any
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &metadata); err != nil {
				return nil, failure.Mark(fmt.Errorf("decode metadata of %q: %w", id, err), failure.Validation)
			}
		}
		var c, u time.Time
		if created.Valid {
			c = created.Time
		}
		if updated.Valid {
			u = updated.Time
		}
		out = append(out, candidate.New(id, content, normalize(score), providerName, metadata).WithTimestamps(c, u))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate rows: %w", err))
	}
	return out, nil
}

// vectorLiteral formats vec in pgvector text form: [1,2,3].
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec) * 8)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// classify marks Postgres errors with a failure category derived from the SQLSTATE.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		if errors.Is(err, sql.ErrConnDone) {
			return failure.Mark(err, failure.Network)
		}
		return err
	}
	return failure.Mark(err, categoryForCode(pqErr.Code))
}

func categoryForCode(code pq.ErrorCode) failure.Category {
	switch code {
	case "57014": // query_canceled (statement_timeout)
		return failure.Timeout
	case "57P01", "57P02", "57P03": // shutdown, cannot_connect_now
		return failure.ServiceUnavailable
	case "42501": // insufficient_privilege
		return failure.Authorization
	case "42P01", "42703", "42883": // undefined table, column or function (extension missing)
		return failure.Configuration
	}
	switch code.Class() {
	case "08": // connection_exception
		return failure.Network
	case "28": // invalid_authorization_specification
		return failure.Authentication
	case "53": // insufficient_resources
		return failure.ServiceUnavailable
	case "22", "42": // data_exception, syntax_error_or_access_rule_violation
		return failure.Validation
	}
	return failure.Unknown
}
