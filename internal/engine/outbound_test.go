package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chatsync/engine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSendTextRejectsBlankContent(t *testing.T) {
	env := newTestEngine(t)

	for _, content := range []string{"", "   ", "\n\t "} {
		err := env.engine.SendText(context.Background(), "conv-1", content)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	env.store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendText(t *testing.T) {
	env := newTestEngine(t)
	env.loadHistory(t, "conv-1", nil)

	env.store.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m types.Message) bool {
		return m.ConversationId == "conv-1" &&
			m.SenderId == testActor &&
			m.Content == "hello" &&
			m.Type == types.MessageTypeText &&
			m.Id != ""
	})).Return(types.Message{}, nil).Once()

	require.NoError(t, env.engine.SendText(context.Background(), "conv-1", "hello"))

	// No optimistic local copy: the authoritative row arrives via the
	// event stream.
	assert.Empty(t, env.engine.Messages("conv-1"))
	env.store.AssertExpectations(t)
}

func TestSendTextClearsLocalTyping(t *testing.T) {
	env := newTestEngine(t)

	env.store.On("UpsertTypingStatus", mock.Anything, mock.MatchedBy(func(s types.TypingStatus) bool {
		return s.IsTyping
	})).Return(nil).Once()
	require.NoError(t, env.engine.SetLocalTyping(context.Background(), "conv-1", true))

	env.store.On("CreateMessage", mock.Anything, mock.Anything).Return(types.Message{}, nil).Once()
	env.store.On("UpsertTypingStatus", mock.Anything, mock.MatchedBy(func(s types.TypingStatus) bool {
		return !s.IsTyping
	})).Return(nil).Once()

	require.NoError(t, env.engine.SendText(context.Background(), "conv-1", "done typing"))
	env.store.AssertExpectations(t)
}

func TestSendTextStoreError(t *testing.T) {
	env := newTestEngine(t)

	env.store.On("CreateMessage", mock.Anything, mock.Anything).
		Return(types.Message{}, errors.New("insert failed")).Once()

	err := env.engine.SendText(context.Background(), "conv-1", "hello")
	assert.ErrorContains(t, err, "insert failed")
}

func TestSendFile(t *testing.T) {
	env := newTestEngine(t)

	var uploadedKey string
	env.blobs.On("Upload", mock.Anything, mock.MatchedBy(func(key string) bool {
		uploadedKey = key
		return strings.HasPrefix(key, "conv-1/"+testActor+"/") && strings.HasSuffix(key, "_photo.png")
	}), mock.Anything, int64(2048), "image/png").Return(nil).Once()
	env.blobs.On("PublicURL", mock.Anything).Return("https://blobs.example/photo.png").Once()

	env.store.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m types.Message) bool {
		return m.Type == types.MessageTypeImage &&
			m.FileUrl == "https://blobs.example/photo.png" &&
			m.FileName == "photo.png" &&
			m.FileSize == 2048
	})).Return(types.Message{}, nil).Once()

	err := env.engine.SendFile(context.Background(), "conv-1", Attachment{
		Name:        "photo.png",
		ContentType: "image/png",
		Size:        2048,
		Reader:      strings.NewReader("fake png bytes"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, uploadedKey)
	env.store.AssertExpectations(t)
	env.blobs.AssertExpectations(t)
}

func TestSendFileClassifiesNonImages(t *testing.T) {
	env := newTestEngine(t)

	env.blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "application/pdf").Return(nil).Once()
	env.blobs.On("PublicURL", mock.Anything).Return("https://blobs.example/report.pdf").Once()
	env.store.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m types.Message) bool {
		return m.Type == types.MessageTypeFile
	})).Return(types.Message{}, nil).Once()

	err := env.engine.SendFile(context.Background(), "conv-1", Attachment{
		Name:        "report.pdf",
		ContentType: "application/pdf",
		Size:        1,
		Reader:      strings.NewReader("%PDF"),
	})
	require.NoError(t, err)
}

func TestSendFileUploadFailureCreatesNoRecord(t *testing.T) {
	env := newTestEngine(t)

	env.blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("bucket unavailable")).Once()

	err := env.engine.SendFile(context.Background(), "conv-1", Attachment{
		Name:        "photo.png",
		ContentType: "image/png",
		Size:        1,
		Reader:      strings.NewReader("x"),
	})
	assert.ErrorContains(t, err, "bucket unavailable")
	env.store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}
