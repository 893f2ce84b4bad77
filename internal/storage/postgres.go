package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// SQLStorage implements RemoteStore on database/sql. Queries are written with
// PostgreSQL placeholders and rebound for SQLite.
type SQLStorage struct {
	db     *sql.DB
	rebind func(string) string
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*SQLStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStorage(db, func(q string) string { return q }, logger)
}

func newSQLStorage(db *sql.DB, rebind func(string) string, logger *zap.Logger) (*SQLStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	storage := &SQLStorage{db: db, rebind: rebind, logger: logger}
	if err := storage.initializeSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize database schema: %w", err)
	}
	return storage, nil
}

func (s *SQLStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("read migrations file: %w", err)
	}
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("execute migrations: %w", err)
	}
	return nil
}

func (s *SQLStorage) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStorage) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStorage) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStorage) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.logger.Warn("Failed to close rows", zap.Error(err))
	}
}

func (s *SQLStorage) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	query := `
		SELECT platforms, niche, followers, goal, updated_at
		FROM profiles
		WHERE user_id = $1`

	var (
		profile   models.Profile
		platforms string
		updatedAt int64
	)
	err := s.queryRow(ctx, query, userID).Scan(&platforms, &profile.Niche, &profile.Followers, &profile.Goal, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(platforms), &profile.Platforms); err != nil {
		return nil, fmt.Errorf("decode profile platforms: %w", err)
	}
	profile.UpdatedAt = time.UnixMilli(updatedAt)
	return &profile, nil
}

func (s *SQLStorage) UpsertProfile(ctx context.Context, userID string, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (user_id, platforms, niche, followers, goal, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			platforms = excluded.platforms,
			niche = excluded.niche,
			followers = excluded.followers,
			goal = excluded.goal,
			updated_at = excluded.updated_at`

	platforms := profile.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	encoded, err := json.Marshal(platforms)
	if err != nil {
		return fmt.Errorf("encode profile platforms: %w", err)
	}
	updatedAt := profile.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if _, err := s.exec(ctx, query, userID, string(encoded), profile.Niche, profile.Followers, profile.Goal, updatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListSavedItems(ctx context.Context, userID string) ([]models.SavedItem, error) {
	query := `
		SELECT id, type, title, payload, created_at
		FROM saved_items
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := s.query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query saved items: %w", err)
	}
	defer s.closeRows(rows)

	var items []models.SavedItem
	for rows.Next() {
		var (
			item      models.SavedItem
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&item.ID, &item.Type, &item.Title, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan saved item: %w", err)
		}
		item.Payload = json.RawMessage(payload)
		item.CreatedAt = time.UnixMilli(createdAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved items: %w", err)
	}
	return items, nil
}

func (s *SQLStorage) UpsertSavedItem(ctx context.Context, userID string, item models.SavedItem) error {
	query := `
		INSERT INTO saved_items (user_id, id, type, title, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			payload = excluded.payload,
			created_at = excluded.created_at`

	payload := string(item.Payload)
	if payload == "" {
		payload = "null"
	}
	if _, err := s.exec(ctx, query, userID, item.ID, string(item.Type), item.Title, payload, item.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("upsert saved item %s: %w", item.ID, err)
	}
	return nil
}

func (s *SQLStorage) DeleteSavedItem(ctx context.Context, userID, itemID string) error {
	if _, err := s.exec(ctx, `DELETE FROM saved_items WHERE user_id = $1 AND id = $2`, userID, itemID); err != nil {
		return fmt.Errorf("delete saved item: %w", err)
	}
	return nil
}

func (s *SQLStorage) GetLatestUsage(ctx context.Context, userID string, kind models.QuotaKind) (*models.QuotaCounter, error) {
	query := `
		SELECT day, count, is_pro
		FROM usage_log
		WHERE user_id = $1 AND kind = $2
		ORDER BY day DESC
		LIMIT 1`

	counter := models.QuotaCounter{Kind: kind}
	err := s.queryRow(ctx, query, userID, string(kind)).Scan(&counter.Day, &counter.Count, &counter.IsPro)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan usage: %w", err)
	}
	return &counter, nil
}

func (s *SQLStorage) UpsertUsage(ctx context.Context, userID string, counter models.QuotaCounter) error {
	query := `
		INSERT INTO usage_log (user_id, kind, day, count, is_pro, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, kind, day) DO UPDATE SET
			count = excluded.count,
			is_pro = excluded.is_pro,
			updated_at = excluded.updated_at`

	if _, err := s.exec(ctx, query, userID, string(counter.Kind), counter.Day, counter.Count, counter.IsPro, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert usage: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := `
		SELECT id, user_id, title, emoji, is_active, last_message_at, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY last_message_at DESC`

	rows, err := s.query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer s.closeRows(rows)

	var convs []models.Conversation
	for rows.Next() {
		var (
			c                               models.Conversation
			lastMessageAt, created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Emoji, &c.IsActive, &lastMessageAt, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.LastMessageAt = time.UnixMilli(lastMessageAt)
		c.CreatedAt = time.UnixMilli(created)
		c.UpdatedAt = time.UnixMilli(updated)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

func (s *SQLStorage) InsertConversation(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, title, emoji, is_active, last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.exec(ctx, query,
		conv.ID, conv.UserID, conv.Title, conv.Emoji, conv.IsActive,
		conv.LastMessageAt.UnixMilli(), conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *SQLStorage) DeactivateConversations(ctx context.Context, userID string) error {
	query := `UPDATE conversations SET is_active = $1, updated_at = $2 WHERE user_id = $3 AND is_active = $4`
	if _, err := s.exec(ctx, query, false, time.Now().UnixMilli(), userID, true); err != nil {
		return fmt.Errorf("deactivate conversations: %w", err)
	}
	return nil
}

func (s *SQLStorage) ActivateConversation(ctx context.Context, userID, conversationID string) error {
	query := `UPDATE conversations SET is_active = $1, updated_at = $2 WHERE user_id = $3 AND id = $4`
	return s.execOne(ctx, "activate conversation", query, true, time.Now().UnixMilli(), userID, conversationID)
}

func (s *SQLStorage) TouchConversation(ctx context.Context, userID, conversationID string, at time.Time) error {
	query := `UPDATE conversations SET last_message_at = $1, updated_at = $1 WHERE user_id = $2 AND id = $3`
	return s.execOne(ctx, "touch conversation", query, at.UnixMilli(), userID, conversationID)
}

func (s *SQLStorage) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	query := `DELETE FROM conversations WHERE user_id = $1 AND id = $2`
	return s.execOne(ctx, "delete conversation", query, userID, conversationID)
}

// execOne runs a statement that must affect exactly one row.
func (s *SQLStorage) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *SQLStorage) InsertMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, user_id, content, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.exec(ctx, query,
		msg.ID, msg.ConversationID, msg.UserID, msg.Content, string(msg.Role), msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListMessages(ctx context.Context, userID, conversationID string) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, user_id, content, role, created_at
		FROM messages
		WHERE user_id = $1 AND conversation_id = $2
		ORDER BY created_at ASC`

	rows, err := s.query(ctx, query, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer s.closeRows(rows)

	var msgs []models.Message
	for rows.Next() {
		var (
			m         models.Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Content, &m.Role, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

// rebindSQLite rewrites $N placeholders into SQLite's ?N form.
func rebindSQLite(query string) string {
	return pgPlaceholder.ReplaceAllString(query, "?$1")
}
