package realtime

import (
	"context"
	"errors"
	"time"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// ErrMessageNotFound is returned by MarkRead for an unknown message id.
var ErrMessageNotFound = errors.New("realtime: message not found")

// StoredMessage is the canonical persisted message representation.
type StoredMessage struct {
	ConversationID string
	ClientMsgID    string
	ServerMsgID    string
	Seq            int64
	SenderID       string
	SenderType     string
	Kind           string
	Body           string
	File           *v1.FileDescriptor
	ServerTS       time.Time
}

// Wire converts m to the contract type, flagging it read for the reader.
func (m StoredMessage) Wire(read bool) v1.Message {
	return v1.Message{
		ID:             m.ServerMsgID,
		ConversationID: m.ConversationID,
		ClientMsgID:    m.ClientMsgID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		SenderType:     m.SenderType,
		Body:           m.Body,
		Kind:           m.Kind,
		File:           m.File,
		Read:           read,
		CreatedAt:      m.ServerTS,
	}
}

// MessageStore persists and queries messages and read receipts.
//
// Requirements:
//   - Idempotency per (conversation_id, client_msg_id)
//   - Monotonic seq per conversation (no gaps for duplicates)
//   - History query ordered by seq ASC
//   - A message never counts as unread for its own sender
type MessageStore interface {
	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error)
	MarkRead(ctx context.Context, in MarkReadInput) (MarkReadResult, error)
	UnreadCount(ctx context.Context, conversationID, readerID string) (int, error)
	Close() error
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	ConversationID string
	ClientMsgID    string
	SenderID       string
	SenderType     string
	Kind           string
	Body           string
	File           *v1.FileDescriptor
	Now            time.Time
}

// AppendMessageResult is the append operation result.
type AppendMessageResult struct {
	Stored     StoredMessage
	Duplicated bool
}

// FetchHistoryInput describes a history query request.
type FetchHistoryInput struct {
	ConversationID string
	AfterSeq       *int64
	Limit          int
	// ReaderID resolves the per-reader read flag.
	ReaderID string
}

// HistoryMessage is one history row plus its read flag for the reader.
type HistoryMessage struct {
	StoredMessage
	Read bool
}

// FetchHistoryResult contains the retrieved history window.
type FetchHistoryResult struct {
	Messages []HistoryMessage
	HasMore  bool
}

// MarkReadInput records a read receipt.
type MarkReadInput struct {
	ServerMsgID string
	ReaderID    string
	Now         time.Time
}

// MarkReadResult reports the receipt outcome. Changed is false for repeated
// receipts and for the sender reading their own message.
type MarkReadResult struct {
	Message StoredMessage
	Changed bool
}

func historyLimit(n int) int {
	if n <= 0 {
		return defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit
	}
	return n
}
