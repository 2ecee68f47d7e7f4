package v1

import "time"

// Support/chat namespace types (wire-stable).
const (
	TypeMessageSend       = "message:send"
	TypeConversationJoin  = "conversation:join"
	TypeConversationLeave = "conversation:leave"
	TypeTypingStart       = "typing:start"
	TypeTypingStop        = "typing:stop"
	TypeMessageRead       = "message:read"
	// TypeConversationHistory pages stored messages (acknowledged).
	TypeConversationHistory = "conversation:history"

	TypeMessageReceived           = "message:received"
	TypeConversationNewMessage    = "conversation:new_message"
	TypeConversationUnreadUpdated = "conversation:unread_count_updated"
	TypeConversationJoined        = "conversation:joined"
	TypeMessageError              = "message:error"
)

var supportTypes = map[string]struct{}{
	TypeMessageSend:               {},
	TypeConversationJoin:          {},
	TypeConversationLeave:         {},
	TypeTypingStart:               {},
	TypeTypingStop:                {},
	TypeMessageRead:               {},
	TypeConversationHistory:       {},
	TypeMessageReceived:           {},
	TypeConversationNewMessage:    {},
	TypeConversationUnreadUpdated: {},
	TypeConversationJoined:        {},
	TypeMessageError:              {},
}

// Sender kinds.
const (
	SenderUser   = "user"
	SenderAdmin  = "admin"
	SenderGuest  = "guest"
	SenderSystem = "system"
)

// Message kinds.
const (
	MessageText     = "text"
	MessageFile     = "file"
	MessageSystem   = "system"
	MessageAuthCode = "auth_code"
)

// ValidMessageKind reports whether k is a known message kind.
func ValidMessageKind(k string) bool {
	switch k {
	case MessageText, MessageFile, MessageSystem, MessageAuthCode:
		return true
	default:
		return false
	}
}

// FileDescriptor points at an uploaded attachment. Uploads happen over HTTP.
type FileDescriptor struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message is an immutable chat event.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	ClientMsgID    string          `json:"clientMsgId,omitempty"`
	Seq            int64           `json:"seq,omitempty"`
	SenderID       string          `json:"senderId"`
	SenderType     string          `json:"senderType"`
	Body           string          `json:"message"`
	Kind           string          `json:"messageType"`
	File           *FileDescriptor `json:"file,omitempty"`
	Read           bool            `json:"isRead"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// MessageSendPayload requests sending a message into a joined conversation.
type MessageSendPayload struct {
	ConversationID string          `json:"conversationId"`
	Message        string          `json:"message"`
	MessageType    string          `json:"messageType,omitempty"`
	File           *FileDescriptor `json:"file,omitempty"`
	ClientMsgID    string          `json:"clientMsgId,omitempty"`
}

// ConversationPayload addresses one conversation (join/leave/joined/typing commands).
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// TypingPayload is relayed to the other members of a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

// MessageReadPayload marks one message as read.
type MessageReadPayload struct {
	MessageID string `json:"messageId"`
}

// MessageReadResult is the ack result of message:read.
type MessageReadResult struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// NewMessagePayload is pushed to admins watching the conversation list.
type NewMessagePayload struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// UnreadCountPayload is an authoritative unread count for one conversation.
type UnreadCountPayload struct {
	ConversationID   string `json:"conversationId"`
	UnreadCount      int    `json:"unreadCount"`
	TotalUnreadCount *int   `json:"totalUnreadCount,omitempty"`
}

// MessageErrorPayload reports a failure of a fire-and-forget support command.
type MessageErrorPayload struct {
	Error string `json:"error"`
}

// HistoryPayload requests a window of conversation history.
type HistoryPayload struct {
	ConversationID string `json:"conversationId"`
	AfterSeq       *int64 `json:"afterSeq,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// HistoryResult is the ack result of conversation:history.
type HistoryResult struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
	HasMore        bool      `json:"hasMore"`
}

// ItemID returns the message id.
func (m Message) ItemID() string { return m.ID }

// IsRead reports the read flag.
func (m Message) IsRead() bool { return m.Read }

// WithRead returns a copy with the read flag set; it is the only mutable field.
func (m Message) WithRead(read bool) Message {
	m.Read = read
	return m
}
