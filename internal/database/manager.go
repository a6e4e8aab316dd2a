package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "lifeline/pkg/database"
	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// Manager implements the Directory and ChatLogStore interfaces over SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the directory database and starts the write loop
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	// ARCHITECTURAL DISCOVERY: SQLite connection string carries the same
	// optimizations as the pragma block so every pooled connection matches
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.InitializeSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry exactly once after a short backoff -
			// transient SQLITE_BUSY clears quickly under WAL
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// CreateUser persists a new principal in the directory
func (m *Manager) CreateUser(ctx context.Context, principal *types.Principal) error {
	if err := principal.Validate(); err != nil {
		return err
	}

	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO users (id, username, email, full_name, role, password_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			principal.ID,
			principal.Username,
			principal.Email,
			principal.FullName,
			principal.Role,
			principal.PasswordHash,
			principal.CreatedAt,
		)
		if err != nil {
			// FUNCTIONAL DISCOVERY: Surface UNIQUE violations as a sentinel so
			// the API layer can answer 409 instead of 500
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return interfaces.ErrDuplicateUser
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUser retrieves a principal by ID
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.Principal, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	query := `
		SELECT id, username, email, full_name, role, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return m.scanUser(m.db.QueryRowContext(ctx, query, userID))
}

// GetUserByUsername retrieves a principal by username
func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*types.Principal, error) {
	query := `
		SELECT id, username, email, full_name, role, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return m.scanUser(m.db.QueryRowContext(ctx, query, username))
}

func (m *Manager) scanUser(row *sql.Row) (*types.Principal, error) {
	var principal types.Principal
	err := row.Scan(
		&principal.ID,
		&principal.Username,
		&principal.Email,
		&principal.FullName,
		&principal.Role,
		&principal.PasswordHash,
		&principal.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &principal, nil
}

// ListUsersByRole returns all principals with the given role
func (m *Manager) ListUsersByRole(ctx context.Context, role string) ([]*types.Principal, error) {
	query := `
		SELECT id, username, email, full_name, role, password_hash, created_at
		FROM users
		WHERE role = ?
		ORDER BY created_at
	`
	rows, err := m.db.QueryContext(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by role: %w", err)
	}
	defer rows.Close()

	var principals []*types.Principal
	for rows.Next() {
		var principal types.Principal
		if err := rows.Scan(
			&principal.ID,
			&principal.Username,
			&principal.Email,
			&principal.FullName,
			&principal.Role,
			&principal.PasswordHash,
			&principal.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		principals = append(principals, &principal)
	}
	return principals, rows.Err()
}

// LinkAccounts records a symmetric child/guardian association
// FUNCTIONAL DISCOVERY: Both directed rows inserted in one transaction so
// the link graph invariant (G linked to C iff C linked to G) always holds
func (m *Manager) LinkAccounts(ctx context.Context, userID, linkedID string) error {
	if userID == linkedID {
		return fmt.Errorf("cannot link a user to itself")
	}

	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		query := `INSERT OR IGNORE INTO links (user_id, linked_id) VALUES (?, ?)`
		if _, err := tx.ExecContext(ctx, query, userID, linkedID); err != nil {
			return fmt.Errorf("failed to insert link: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, linkedID, userID); err != nil {
			return fmt.Errorf("failed to insert reverse link: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit link creation: %w", err)
		}
		return nil
	})
}

// LinkedAccounts returns the principals linked to the given user
func (m *Manager) LinkedAccounts(ctx context.Context, userID string) ([]*types.Principal, error) {
	query := `
		SELECT u.id, u.username, u.email, u.full_name, u.role, u.password_hash, u.created_at
		FROM links l
		JOIN users u ON u.id = l.linked_id
		WHERE l.user_id = ?
		ORDER BY u.created_at
	`
	rows, err := m.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked accounts: %w", err)
	}
	defer rows.Close()

	var principals []*types.Principal
	for rows.Next() {
		var principal types.Principal
		if err := rows.Scan(
			&principal.ID,
			&principal.Username,
			&principal.Email,
			&principal.FullName,
			&principal.Role,
			&principal.PasswordHash,
			&principal.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan linked account: %w", err)
		}
		principals = append(principals, &principal)
	}
	return principals, rows.Err()
}

// StoreChatLog persists one encrypted conversation entry
func (m *Manager) StoreChatLog(ctx context.Context, entry *types.ChatLog) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO chat_logs (id, user_id, payload, created_at)
			VALUES (?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query, entry.ID, entry.UserID, entry.Payload, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert chat log: %w", err)
		}
		return nil
	})
}

// GetChatLogs returns all stored entries for a user ordered by creation time
func (m *Manager) GetChatLogs(ctx context.Context, userID string) ([]*types.ChatLog, error) {
	query := `
		SELECT id, user_id, payload, created_at
		FROM chat_logs
		WHERE user_id = ?
		ORDER BY created_at
	`
	rows, err := m.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat logs: %w", err)
	}
	defer rows.Close()

	var entries []*types.ChatLog
	for rows.Next() {
		var entry types.ChatLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat log: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// HealthCheck verifies database connectivity and basic operations
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var one int
	if err := m.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// GetDB exposes the underlying handle for schema validation and tests
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the write loop and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}
