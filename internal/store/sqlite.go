package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/odilbekov/ustabor/internal/domain"
	"github.com/odilbekov/ustabor/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed state store.
func NewSQLite(dbPath string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		access_expires_at INTEGER NOT NULL,
		refresh_expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_cache (
		announcement_id TEXT NOT NULL,
		master_id INTEGER NOT NULL,
		client_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		PRIMARY KEY (announcement_id, master_id, client_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_message_cache_created ON message_cache(created_at);

	CREATE TABLE IF NOT EXISTS preview_cache (
		announcement_id TEXT NOT NULL,
		master_id INTEGER NOT NULL,
		client_id INTEGER NOT NULL,
		last_message_time INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		PRIMARY KEY (announcement_id, master_id, client_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveCredentials persists the token pair, replacing any existing one.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, creds *domain.Credentials) error {
	query := `
	INSERT INTO credentials (id, access_token, refresh_token, access_expires_at, refresh_expires_at, updated_at)
	VALUES (1, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		access_expires_at = excluded.access_expires_at,
		refresh_expires_at = excluded.refresh_expires_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		creds.AccessToken, creds.RefreshToken,
		creds.AccessExpiresAt.Unix(), creds.RefreshExpiresAt.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// UpdateAccessToken replaces only the access token after a refresh.
func (s *SQLiteStore) UpdateAccessToken(ctx context.Context, access string, expiresAt int64) error {
	query := `UPDATE credentials SET access_token = ?, access_expires_at = ?, updated_at = ? WHERE id = 1`
	result, err := s.db.ExecContext(ctx, query, access, expiresAt, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateAccessToken affected 0 rows")
	}
	return nil
}

// Credentials returns the stored token pair, or nil when none is stored.
func (s *SQLiteStore) Credentials(ctx context.Context) (*domain.Credentials, error) {
	query := `
		SELECT access_token, refresh_token, access_expires_at, refresh_expires_at
		FROM credentials WHERE id = 1`

	row := s.db.QueryRowContext(ctx, query)

	var creds domain.Credentials
	var accessExp, refreshExp int64

	err := row.Scan(&creds.AccessToken, &creds.RefreshToken, &accessExp, &refreshExp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credentials row: %w", err)
	}

	creds.AccessExpiresAt = time.Unix(accessExp, 0)
	creds.RefreshExpiresAt = time.Unix(refreshExp, 0)

	return &creds, nil
}

// DeleteCredentials removes the stored token pair.
func (s *SQLiteStore) DeleteCredentials(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// CacheMessages replaces the cached history for one conversation.
// Stored order is the input order so replay preserves server order.
func (s *SQLiteStore) CacheMessages(ctx context.Context, key domain.ConversationKey, msgs []domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back cache transaction", "error", rbErr)
		}
	}()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM message_cache WHERE announcement_id = ? AND master_id = ? AND client_id = ?`,
		key.AnnouncementID, key.MasterID, key.ClientID,
	)
	if err != nil {
		return fmt.Errorf("clear cached messages: %w", err)
	}

	for i := range msgs {
		if err := insertCachedMessage(ctx, tx, key, i, &msgs[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache transaction: %w", err)
	}
	return nil
}

// AppendCachedMessage adds one live message to a cached conversation.
// Live appends race with history snapshots, so SQLITE_BUSY conflicts
// are retried with backoff.
func (s *SQLiteStore) AppendCachedMessage(ctx context.Context, key domain.ConversationKey, msg domain.Message) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.appendCachedMessageOnce(ctx, key, msg)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("AppendCachedMessage conflict, retrying", "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return fmt.Errorf("append cached message for %s: %w", key.String(), err)
}

func (s *SQLiteStore) appendCachedMessageOnce(ctx context.Context, key domain.ConversationKey, msg domain.Message) error {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) FROM message_cache
		 WHERE announcement_id = ? AND master_id = ? AND client_id = ?`,
		key.AnnouncementID, key.MasterID, key.ClientID,
	)
	var maxPos int
	if err := row.Scan(&maxPos); err != nil {
		return fmt.Errorf("scan cache position: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back append transaction", "error", rbErr)
		}
	}()

	if err := insertCachedMessage(ctx, tx, key, maxPos+1, &msg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append transaction: %w", err)
	}
	return nil
}

func insertCachedMessage(ctx context.Context, tx *sql.Tx, key domain.ConversationKey, position int, msg *domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal cached message: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO message_cache (announcement_id, master_id, client_id, position, created_at, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(announcement_id, master_id, client_id, position) DO UPDATE SET
			created_at = excluded.created_at,
			payload_json = excluded.payload_json`,
		key.AnnouncementID, key.MasterID, key.ClientID,
		position, msg.CreatedAt.Unix(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert cached message: %w", err)
	}
	return nil
}

// CachedMessages returns the cached history for one conversation in
// stored order.
func (s *SQLiteStore) CachedMessages(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM message_cache
		 WHERE announcement_id = ? AND master_id = ? AND client_id = ?
		 ORDER BY position ASC`,
		key.AnnouncementID, key.MasterID, key.ClientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query cached messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close cached messages rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan cached message row: %w", err)
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal cached message: %w", err)
		}
		msgs = append(msgs, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached messages: %w", err)
	}
	return msgs, nil
}

// SavePreviews replaces the cached active-chats listing.
func (s *SQLiteStore) SavePreviews(ctx context.Context, previews []domain.ChatPreview) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin preview transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back preview transaction", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM preview_cache`); err != nil {
		return fmt.Errorf("clear preview cache: %w", err)
	}

	for i := range previews {
		p := &previews[i]
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal preview: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO preview_cache (announcement_id, master_id, client_id, last_message_time, payload_json)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(announcement_id, master_id, client_id) DO UPDATE SET
				last_message_time = excluded.last_message_time,
				payload_json = excluded.payload_json`,
			p.AnnouncementID, p.MasterID, p.ClientID,
			p.LastMessageTime.Unix(), string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert preview: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit preview transaction: %w", err)
	}
	return nil
}

// Previews returns the cached active-chats listing, most recent first.
func (s *SQLiteStore) Previews(ctx context.Context) ([]domain.ChatPreview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM preview_cache ORDER BY last_message_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("query previews: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close preview rows", "error", closeErr)
		}
	}()

	var previews []domain.ChatPreview
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan preview row: %w", err)
		}
		var p domain.ChatPreview
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("unmarshal preview: %w", err)
		}
		previews = append(previews, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate previews: %w", err)
	}
	return previews, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
