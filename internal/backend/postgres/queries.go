package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/types"
)

const conversationColumns = "id, participant_a, participant_b, last_message_preview, last_message_at, unread_a, unread_b, created_at, updated_at"

func (s *Store) ListConversations(ctx context.Context, actorId string) ([]types.Conversation, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations "+
			"WHERE participant_a = $1 OR participant_b = $1 "+
			"ORDER BY last_message_at DESC NULLS LAST",
		actorId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []types.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}

	return convs, rows.Err()
}

func (s *Store) GetConversationByParticipants(ctx context.Context, a, b string) (types.Conversation, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations "+
			"WHERE (participant_a = $1 AND participant_b = $2) "+
			"OR (participant_a = $2 AND participant_b = $1) LIMIT 1",
		a, b,
	)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Conversation{}, backend.ErrNotFound
	}

	return conv, err
}

func (s *Store) CreateConversation(ctx context.Context, conv types.Conversation) (types.Conversation, error) {
	row := s.conn.QueryRowContext(ctx,
		"INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING "+conversationColumns,
		conv.Id,
		conv.ParticipantA,
		conv.ParticipantB,
		time.Now().UTC(),
	)

	return scanConversation(row)
}

func (s *Store) ResetUnread(ctx context.Context, conversationId, actorId string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE conversations SET "+
			"unread_a = CASE WHEN participant_a = $2 THEN 0 ELSE unread_a END, "+
			"unread_b = CASE WHEN participant_b = $2 THEN 0 ELSE unread_b END, "+
			"updated_at = $3 WHERE id = $1",
		conversationId,
		actorId,
		time.Now().UTC(),
	)

	return err
}

const messageColumns = "id, conversation_id, sender_id, content, type, file_url, file_type, file_name, file_size, created_at, read_at, is_deleted"

func (s *Store) ListMessages(ctx context.Context, conversationId string) ([]types.Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE conversation_id = $1 ORDER BY created_at, id",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

// CreateMessage inserts the message and mirrors it on the owning
// conversation (preview, recency, recipient unread counter) in one
// transaction.
func (s *Store) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Message{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"INSERT INTO messages (id, conversation_id, sender_id, content, type, file_url, file_type, file_name, file_size, created_at, is_deleted) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE) RETURNING "+messageColumns,
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.Content,
		msg.Type,
		nullString(msg.FileUrl),
		nullString(msg.FileType),
		nullString(msg.FileName),
		nullInt64(msg.FileSize),
		msg.CreatedAt,
	)

	created, err := scanMessage(row)
	if err != nil {
		return types.Message{}, err
	}

	preview := msg.Content
	if preview == "" {
		preview = msg.FileName
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_preview = $2, last_message_at = $3, "+
			"unread_a = unread_a + CASE WHEN participant_a <> $4 THEN 1 ELSE 0 END, "+
			"unread_b = unread_b + CASE WHEN participant_b <> $4 THEN 1 ELSE 0 END, "+
			"updated_at = $3 WHERE id = $1",
		msg.ConversationId,
		preview,
		msg.CreatedAt,
		msg.SenderId,
	)
	if err != nil {
		return types.Message{}, fmt.Errorf("update conversation on message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Message{}, err
	}

	return created, nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, messageId string) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE messages SET is_deleted = TRUE WHERE id = $1",
		messageId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return backend.ErrNotFound
	}

	return nil
}

func (s *Store) MarkMessagesRead(ctx context.Context, conversationId, senderId string, readAt time.Time) ([]types.Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		"UPDATE messages SET read_at = $3 "+
			"WHERE conversation_id = $1 AND sender_id = $2 AND read_at IS NULL "+
			"RETURNING "+messageColumns,
		conversationId,
		senderId,
		readAt,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

func (s *Store) UpsertTypingStatus(ctx context.Context, status types.TypingStatus) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO typing_status (conversation_id, user_id, is_typing, updated_at) "+
			"VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (conversation_id, user_id) "+
			"DO UPDATE SET is_typing = EXCLUDED.is_typing, updated_at = EXCLUDED.updated_at",
		status.ConversationId,
		status.UserId,
		status.IsTyping,
		status.UpdatedAt,
	)

	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (types.Conversation, error) {
	var (
		conv    types.Conversation
		preview sql.NullString
		lastAt  sql.NullTime
	)
	err := row.Scan(
		&conv.Id,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&preview,
		&lastAt,
		&conv.UnreadA,
		&conv.UnreadB,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return types.Conversation{}, err
	}

	conv.LastMessagePreview = preview.String
	if lastAt.Valid {
		at := lastAt.Time
		conv.LastMessageAt = &at
	}

	return conv, nil
}

func scanMessage(row scanner) (types.Message, error) {
	var (
		msg      types.Message
		fileUrl  sql.NullString
		fileType sql.NullString
		fileName sql.NullString
		fileSize sql.NullInt64
		readAt   sql.NullTime
	)
	err := row.Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.Content,
		&msg.Type,
		&fileUrl,
		&fileType,
		&fileName,
		&fileSize,
		&msg.CreatedAt,
		&readAt,
		&msg.IsDeleted,
	)
	if err != nil {
		return types.Message{}, err
	}

	msg.FileUrl = fileUrl.String
	msg.FileType = fileType.String
	msg.FileName = fileName.String
	msg.FileSize = fileSize.Int64
	if readAt.Valid {
		at := readAt.Time
		msg.ReadAt = &at
	}

	return msg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
