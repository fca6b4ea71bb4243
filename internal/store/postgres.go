package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id        TEXT PRIMARY KEY,
	full_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id                TEXT PRIMARY KEY,
	user1             TEXT NOT NULL,
	user2             TEXT NOT NULL,
	last_message      TEXT,
	last_message_type TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS conversations_pair_idx
	ON conversations (LEAST(user1, user2), GREATEST(user1, user2));

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL,
	type            TEXT NOT NULL CHECK (type IN ('text', 'file')),
	hidden_content  TEXT,
	file_url        TEXT,
	file_name       TEXT,
	stego_method    TEXT,
	preview         TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messages_conversation_created_idx
	ON messages (conversation_id, created_at);
`

const conversationColumns = `id, user1, user2, last_message, last_message_type, created_at, updated_at`

const messageColumns = `id, conversation_id, sender_id, type, hidden_content, file_url, file_name, stego_method, preview, created_at`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	return conv, err
}

// FindConversation looks up the conversation for an unordered pair.
func (s *PostgresStore) FindConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE (user1 = $1 AND user2 = $2) OR (user1 = $2 AND user2 = $1)`, a, b)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation for pair: %w", apperrors.ErrNotFound)
	}
	return conv, err
}

// CreateConversation inserts the pair's conversation. A concurrent insert for
// the same pair loses on the unique pair index and the existing row is returned.
func (s *PostgresStore) CreateConversation(ctx context.Context, a, b string, seed *model.Summary) (*model.Conversation, error) {
	var lastMessage, lastKind *string
	if seed != nil {
		text, kind := seed.Text, string(seed.Kind)
		lastMessage, lastKind = &text, &kind
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, user1, user2, last_message, last_message_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (LEAST(user1, user2), GREATEST(user1, user2)) DO NOTHING
		RETURNING `+conversationColumns,
		uuid.Must(uuid.NewV7()).String(), a, b, lastMessage, lastKind)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.FindConversation(ctx, a, b)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the user's conversations, newest first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE user1 = $1 OR user2 = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// ListMessages returns messages ascending by creation time.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// GetMessage returns one message of a conversation.
func (s *PostgresStore) GetMessage(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND id = $2`, conversationID, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, apperrors.ErrNotFound)
	}
	return msg, err
}

// CommitMessage inserts msg and updates the conversation summary in one transaction.
func (s *PostgresStore) CommitMessage(ctx context.Context, msg *model.Message, summary model.Summary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var fileURL, fileName, method *string
	if msg.Attachment != nil {
		fileURL, fileName = &msg.Attachment.Path, &msg.Attachment.Name
	}
	if msg.StegoMethod != nil {
		m := string(*msg.StegoMethod)
		method = &m
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)`,
		msg.ID, msg.ConversationID, msg.SenderID, string(msg.Kind), msg.HiddenContent,
		fileURL, fileName, method, msg.Preview, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE conversations
		SET last_message = $2, last_message_type = $3, updated_at = $4
		WHERE id = $1`,
		msg.ConversationID, summary.Text, string(summary.Kind), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, apperrors.ErrNotFound)
	}

	return tx.Commit(ctx)
}

// GetProfiles returns the profiles that exist among ids.
func (s *PostgresStore) GetProfiles(ctx context.Context, ids []string) ([]model.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryProfiles(ctx, `SELECT id, full_name FROM profiles WHERE id = ANY($1)`, ids)
}

// SearchProfiles matches names case-insensitively, excluding excludeID.
func (s *PostgresStore) SearchProfiles(ctx context.Context, query, excludeID string) ([]model.Profile, error) {
	return s.queryProfiles(ctx, `
		SELECT id, full_name FROM profiles
		WHERE full_name ILIKE '%' || $1 || '%' AND id <> $2
		ORDER BY full_name, id`, query, excludeID)
}

// ListProfiles returns every profile except excludeID.
func (s *PostgresStore) ListProfiles(ctx context.Context, excludeID string) ([]model.Profile, error) {
	return s.queryProfiles(ctx, `
		SELECT id, full_name FROM profiles WHERE id <> $1 ORDER BY full_name, id`, excludeID)
}

// UpsertProfile creates or replaces a profile.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p model.Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, full_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name`, p.ID, p.FullName)
	return err
}

func (s *PostgresStore) queryProfiles(ctx context.Context, sql string, args ...any) ([]model.Profile, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.ID, &p.FullName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		conv     model.Conversation
		lastKind *string
	)
	err := row.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB,
		&conv.LastMessage, &lastKind, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastKind != nil {
		k := model.Kind(*lastKind)
		conv.LastMessageKind = &k
	}
	return &conv, nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		msg                       model.Message
		kind                      string
		hidden, fileURL, fileName *string
		method, preview           *string
		createdAt                 time.Time
	)
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &kind,
		&hidden, &fileURL, &fileName, &method, &preview, &createdAt)
	if err != nil {
		return nil, err
	}

	msg.Kind = model.Kind(kind)
	msg.CreatedAt = createdAt
	if hidden != nil {
		msg.HiddenContent = *hidden
	}
	if fileURL != nil {
		msg.Attachment = &model.Attachment{Path: *fileURL}
		if fileName != nil {
			msg.Attachment.Name = *fileName
		}
	}
	if method != nil {
		m := model.StegoMethod(*method)
		msg.StegoMethod = &m
	}
	if preview != nil {
		msg.Preview = *preview
	}
	return &msg, nil
}
