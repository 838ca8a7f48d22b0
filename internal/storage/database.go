package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"codesage/internal/config"
	"codesage/internal/models"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// OpenDB connects to the configured SQL database.
func OpenDB(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbType = strings.ToLower(dbType)
	if dbType == "sqlite" {
		dbType = "sqlite3"
	}
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch dbType {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one connection keeps ":memory:" databases shared and serialises writers
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "parseTime=true&charset=utf8mb4"
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				last_updated DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				role TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				content TEXT NOT NULL,
				FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, position)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_last_updated ON sessions(last_updated DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id VARCHAR(64) NOT NULL,
				title VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				last_updated DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_sessions_last_updated (last_updated)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id VARCHAR(64) NOT NULL,
				session_id VARCHAR(64) NOT NULL,
				position INT NOT NULL,
				role VARCHAR(50) NOT NULL,
				timestamp VARCHAR(64) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_session (session_id, position),
				CONSTRAINT fk_messages_session FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// SQLBackend stores the session mapping in the sessions and messages
// tables. Save replaces every row inside one transaction.
type SQLBackend struct {
	db *sql.DB
}

func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func (s *SQLBackend) Load(ctx context.Context) (models.Document, error) {
	doc, err := s.loadSessions(ctx)
	if err != nil {
		return make(models.Document), err
	}
	if err := s.loadMessages(ctx, doc); err != nil {
		return make(models.Document), err
	}
	return doc, nil
}

// loadSessions and loadMessages each release their rows before returning;
// sqlite runs with a single connection.
func (s *SQLBackend) loadSessions(ctx context.Context) (models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, last_updated FROM sessions`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	doc := make(models.Document)
	for rows.Next() {
		se := &models.Session{Messages: []models.Message{}}
		if err := rows.Scan(&se.ID, &se.Title, &se.CreatedAt, &se.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		se.CreatedAt = se.CreatedAt.UTC()
		se.LastUpdated = se.LastUpdated.UTC()
		doc[se.ID] = se
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return doc, nil
}

func (s *SQLBackend) loadMessages(ctx context.Context, doc models.Document) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, timestamp, content FROM messages ORDER BY session_id, position ASC`,
	)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         models.Message
			sessionID string
		)
		if err := rows.Scan(&m.ID, &sessionID, &m.Role, &m.Timestamp, &m.Content); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		if se, ok := doc[sessionID]; ok {
			se.Messages = append(se.Messages, m)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	return nil
}

func (s *SQLBackend) Save(ctx context.Context, doc models.Document) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	for _, se := range doc {
		if se == nil {
			continue
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, title, created_at, last_updated) VALUES (?, ?, ?, ?)`,
			se.ID, se.Title, se.CreatedAt.UTC(), se.LastUpdated.UTC(),
		); err != nil {
			return fmt.Errorf("insert session %s: %w", se.ID, err)
		}
		for pos, m := range se.Messages {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO messages (id, session_id, position, role, timestamp, content) VALUES (?, ?, ?, ?, ?, ?)`,
				m.ID, se.ID, pos, m.Role, m.Timestamp, m.Content,
			); err != nil {
				return fmt.Errorf("insert message %s: %w", m.ID, err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit sessions: %w", err)
	}
	return nil
}

func (s *SQLBackend) Close() error {
	return s.db.Close()
}
