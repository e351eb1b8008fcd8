package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const memoryPath = ":memory:"

// DB is the sqlite store behind every repository interface of the engine.
type DB struct {
	*sqlx.DB
	path    string
	builder squirrel.StatementBuilderType
	logger  *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != memoryPath {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps sqlite from returning SQLITE_BUSY and shares :memory: between calls
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{
		DB:      conn,
		path:    path,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		logger:  logger,
	}, nil
}

// Path is the file the store was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sqlx.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS plannings (
            id TEXT PRIMARY KEY,
            prestation_id TEXT NOT NULL,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            is_active BOOLEAN NOT NULL DEFAULT 1,
            daily_rate TEXT NOT NULL DEFAULT '0',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS available_slots (
            id TEXT PRIMARY KEY,
            planning_id TEXT NOT NULL REFERENCES plannings(id),
            date TEXT NOT NULL,
            max_capacity INTEGER NOT NULL CHECK (max_capacity >= 0),
            reserved_capacity INTEGER NOT NULL DEFAULT 0
                CHECK (reserved_capacity >= 0 AND reserved_capacity <= max_capacity),
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            UNIQUE (planning_id, date)
        )`,
		`CREATE TABLE IF NOT EXISTS reservations (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            animal_id TEXT NOT NULL,
            animal_name TEXT NOT NULL DEFAULT '',
            service_id TEXT NOT NULL,
            start_date TEXT NOT NULL,
            end_date TEXT,
            comments TEXT,
            quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity > 0),
            status TEXT NOT NULL,
            total_price TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS reservation_slots (
            id TEXT PRIMARY KEY,
            reservation_id TEXT NOT NULL REFERENCES reservations(id),
            available_slot_id TEXT NOT NULL REFERENCES available_slots(id),
            slot_date TEXT NOT NULL,
            quantity INTEGER NOT NULL,
            reserved_at DATETIME NOT NULL,
            released_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS baskets (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            status TEXT NOT NULL,
            payment_id TEXT,
            payment_failure_count INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS basket_items (
            basket_id TEXT NOT NULL REFERENCES baskets(id),
            reservation_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            PRIMARY KEY (basket_id, reservation_id)
        )`,
		`CREATE TABLE IF NOT EXISTS payments (
            id TEXT PRIMARY KEY,
            basket_id TEXT NOT NULL REFERENCES baskets(id),
            amount TEXT NOT NULL,
            method TEXT NOT NULL,
            status TEXT NOT NULL,
            external_transaction_id TEXT,
            failure_reason TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_type TEXT NOT NULL,
            subject_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_slots_planning_date ON available_slots(planning_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status_created ON reservations(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservation_slots_reservation ON reservation_slots(reservation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_baskets_status_updated ON baskets(status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_basket_items_reservation ON basket_items(reservation_id)`,
		// одна открытая корзина на пользователя
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_baskets_open_user ON baskets(user_id)
            WHERE status IN ('created', 'payment_failure')`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
