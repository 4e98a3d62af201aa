// Package postgres provides the Postgres-backed article store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/news-refresher/internal/article"
)

const (
	defaultTable      = "articles"
	uniqueViolation   = "23505"
	invalidTextFormat = "22P02"
	textSearchConfig  = "english"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

//go:embed schema.sql
var schemaTemplate string

var columns = []string{
	"id::text",
	"title",
	"description",
	"content",
	"url",
	"url_to_image",
	"published_at",
	"author",
	"source_id",
	"source_name",
}

// Config controls the Postgres connection pool used for article rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Migrate         bool
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ArticleStore implements article.Store on Postgres. Full-text search runs
// against a generated tsvector column weighted title > description > content.
type ArticleStore struct {
	pool  pool
	table string
	sb    sq.StatementBuilderType
}

// NewArticleStore connects to Postgres and, when cfg.Migrate is set, creates
// the schema.
func NewArticleStore(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewArticleStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(p pool, table string) (*ArticleStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ArticleStore{
		pool:  p,
		table: table,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Migrate creates the table and its indexes if they do not exist.
func (s *ArticleStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL(s.table)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func schemaSQL(table string) string {
	return strings.ReplaceAll(schemaTemplate, "{{table}}", table)
}

// Ping checks connectivity.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// DeleteAll removes every article row.
func (s *ArticleStore) DeleteAll(ctx context.Context) (int64, error) {
	query, args, err := s.sb.Delete(s.table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete articles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Insert writes one record and assigns its ID.
func (s *ArticleStore) Insert(ctx context.Context, record *article.Record) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}
	query, args, err := s.sb.Insert(s.table).
		Columns("id", "title", "description", "content", "url", "url_to_image",
			"published_at", "author", "source_id", "source_name").
		Values(id.String(), record.Title, record.Description, record.Content, record.URL,
			record.URLToImage, record.PublishedAt, record.Author, record.Source.ID, record.Source.Name).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert article: %w", mapError(err))
	}
	record.ID = id.String()
	return nil
}

// Count returns the number of rows matching filter.
func (s *ArticleStore) Count(ctx context.Context, filter article.Filter) (int64, error) {
	builder, err := s.where(s.sb.Select("COUNT(*)").From(s.table), filter)
	if err != nil {
		return 0, err
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", mapError(err))
	}
	return n, nil
}

// Find returns matching rows ordered and windowed per opts.
func (s *ArticleStore) Find(ctx context.Context, filter article.Filter, opts article.FindOptions) ([]article.Record, error) {
	builder, err := s.where(s.sb.Select(columns...).From(s.table), filter)
	if err != nil {
		return nil, err
	}
	switch opts.Sort {
	case article.SortPublishedAsc:
		builder = builder.OrderBy("published_at ASC")
	case article.SortPublishedDesc:
		builder = builder.OrderBy("published_at DESC")
	}
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}
	if opts.Skip > 0 {
		builder = builder.Offset(uint64(opts.Skip))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find articles: %w", mapError(err))
	}
	defer rows.Close()

	out := []article.Record{}
	for rows.Next() {
		var rec article.Record
		if err := rows.Scan(
			&rec.ID,
			&rec.Title,
			&rec.Description,
			&rec.Content,
			&rec.URL,
			&rec.URLToImage,
			&rec.PublishedAt,
			&rec.Author,
			&rec.Source.ID,
			&rec.Source.Name,
		); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *ArticleStore) where(b sq.SelectBuilder, filter article.Filter) (sq.SelectBuilder, error) {
	if filter.ID != "" {
		if _, err := uuid.Parse(filter.ID); err != nil {
			return b, article.ErrInvalidID
		}
		b = b.Where(sq.Eq{"id": filter.ID})
	}
	if filter.ExcludeID != "" {
		if _, err := uuid.Parse(filter.ExcludeID); err != nil {
			return b, article.ErrInvalidID
		}
		b = b.Where(sq.NotEq{"id": filter.ExcludeID})
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		b = b.Where(sq.Expr("search @@ websearch_to_tsquery('"+textSearchConfig+"', ?)", q))
	}
	return b, nil
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", article.ErrDuplicateURL, pgErr.Detail)
		case invalidTextFormat:
			return article.ErrInvalidID
		}
	}
	return err
}
