package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type PostgresDB struct {
	Conn *sql.DB
}

type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int
}

func NewPostgresDB(ctx context.Context, opts Options, logger *zap.Logger) (*PostgresDB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		opts.Host, opts.Port, opts.User, opts.Password, opts.Name,
	)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxConns > 0 {
		conn.SetMaxOpenConns(opts.MaxConns)
		conn.SetMaxIdleConns(opts.MaxConns / 2)
	}
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("✅ Connected to PostgreSQL", zap.String("host", opts.Host), zap.String("database", opts.Name))
	return &PostgresDB{Conn: conn}, nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.Conn.PingContext(ctx)
}

func (db *PostgresDB) Close() error {
	return db.Conn.Close()
}
