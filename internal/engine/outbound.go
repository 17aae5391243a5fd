package engine

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/chatsync/engine/internal/stats"
	"github.com/chatsync/engine/internal/types"
	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

// Attachment is an outbound file payload.
type Attachment struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// SendText submits a text message. Blank content is rejected before any
// network call. No local copy is injected: the authoritative row arrives
// back through the same insert event path as remote participants'
// messages.
func (e *Engine) SendText(ctx context.Context, conversationId, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	_, err := e.store.CreateMessage(ctx, types.Message{
		Id:             uuid.NewString(),
		ConversationId: conversationId,
		SenderId:       e.actorId,
		Content:        content,
		Type:           types.MessageTypeText,
		CreatedAt:      e.clock.Now(),
	})
	if err != nil {
		e.stats.Incr(stats.MetricSendFailures)
		return fmt.Errorf("send text: %w", err)
	}
	e.stats.Incr(stats.MetricMessagesSent)

	// A completed send means the actor is no longer typing.
	e.SetLocalTyping(ctx, conversationId, false)

	return nil
}

// SendFile uploads the attachment and then creates the message record
// referencing it. On upload failure no record is created and the error is
// surfaced for retry.
func (e *Engine) SendFile(ctx context.Context, conversationId string, file Attachment) error {
	if file.Name == "" || file.Reader == nil {
		return ErrEmptyMessage
	}
	if e.blobs == nil {
		return fmt.Errorf("blob storage not configured")
	}

	msgType := types.MessageTypeFile
	if strings.HasPrefix(file.ContentType, "image/") {
		msgType = types.MessageTypeImage
	}

	key := e.attachmentKey(conversationId, file.Name)
	if err := e.blobs.Upload(ctx, key, file.Reader, file.Size, file.ContentType); err != nil {
		e.stats.Incr(stats.MetricSendFailures)
		return fmt.Errorf("upload %q: %w", file.Name, err)
	}

	_, err := e.store.CreateMessage(ctx, types.Message{
		Id:             uuid.NewString(),
		ConversationId: conversationId,
		SenderId:       e.actorId,
		Type:           msgType,
		FileUrl:        e.blobs.PublicURL(key),
		FileType:       file.ContentType,
		FileName:       file.Name,
		FileSize:       file.Size,
		CreatedAt:      e.clock.Now(),
	})
	if err != nil {
		e.stats.Incr(stats.MetricSendFailures)
		return fmt.Errorf("send file: %w", err)
	}
	e.stats.Incr(stats.MetricMessagesSent)

	e.SetLocalTyping(ctx, conversationId, false)

	return nil
}

// attachmentKey scopes the blob under {conversation}/{sender} with a
// timestamp and short unique suffix so concurrent uploads of the same
// filename never collide.
func (e *Engine) attachmentKey(conversationId, filename string) string {
	suffix, err := shortid.Generate()
	if err != nil {
		suffix = uuid.NewString()[:8]
	}
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	return fmt.Sprintf("%s/%s/%d_%s_%s", conversationId, e.actorId, e.clock.Now().Unix(), suffix, name)
}
