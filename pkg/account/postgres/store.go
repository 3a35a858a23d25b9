// Package postgres implements account.Store on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bank-gateway/pkg/account"

	"github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration. DSN wins over the
// discrete fields when set.
type Config struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "bank_gateway",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func (c Config) connString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store is a PostgreSQL backed account.Store.
type Store struct {
	db *sql.DB
}

// New opens the pool, pings it and creates the accounts table if missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}
	return s, nil
}

func (s *Store) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			token TEXT UNIQUE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_token ON accounts(token)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

const selectColumns = `SELECT id, username, password, name, status, COALESCE(token, ''), created_at, updated_at FROM accounts`

func scanAccount(row interface{ Scan(...any) error }) (*account.Account, error) {
	var a account.Account
	var status string
	if err := row.Scan(&a.ID, &a.Username, &a.Password, &a.Name, &status, &a.Token, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = account.Status(status)
	return &a, nil
}

func (s *Store) findOne(ctx context.Context, where string, arg any) (*account.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, selectColumns+" WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	return s.findOne(ctx, "id = $1", id)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	return s.findOne(ctx, "username = $1", username)
}

func (s *Store) FindByToken(ctx context.Context, token string) (*account.Account, error) {
	if token == "" {
		return nil, nil
	}
	return s.findOne(ctx, "token = $1", token)
}

func (s *Store) List(ctx context.Context) ([]*account.Account, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []*account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, a *account.Account) (int64, error) {
	status := a.Status
	if status == "" {
		status = account.StatusActive
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (username, password, name, status, token)
		 VALUES ($1, $2, $3, $4, NULLIF($5, '')) RETURNING id`,
		a.Username, a.Password, a.Name, string(status), a.Token,
	).Scan(&id)
	if err != nil {
		return 0, translate(fmt.Errorf("create account: %w", err))
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, id int64, u account.Update) (bool, error) {
	if u.Empty() {
		return false, nil
	}

	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Password != nil {
		add("password", *u.Password)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Token != nil {
		args = append(args, *u.Token)
		sets = append(sets, fmt.Sprintf("token = NULLIF($%d, '')", len(args)))
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE accounts SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, translate(fmt.Errorf("update account: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update account: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// translate maps unique violations onto the account sentinels.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	if strings.Contains(pqErr.Constraint, "token") {
		return fmt.Errorf("%w: %v", account.ErrDuplicateToken, err)
	}
	return fmt.Errorf("%w: %v", account.ErrDuplicateUsername, err)
}
