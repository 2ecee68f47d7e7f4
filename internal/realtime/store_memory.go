package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memConversationCap bounds the messages kept per conversation; the oldest go
// first, together with their receipts.
const memConversationCap = 10_000

// InMemoryStore is the MessageStore used when no database is configured.
type InMemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*memConversation
	where map[string]string // server_msg_id -> conversation_id
}

type memConversation struct {
	lastSeq  int64
	byClient map[string]int64               // client_msg_id -> seq
	log      []StoredMessage                // ascending seq, contiguous until trimmed
	readers  map[string]map[string]struct{} // server_msg_id -> reader ids
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs: make(map[string]*memConversation),
		where: make(map[string]string),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if in.ConversationID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return AppendMessageResult{}, fmt.Errorf("%w: conversation, client id and sender are required", ErrInvalidMessage)
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		c = &memConversation{
			byClient: make(map[string]int64),
			readers:  make(map[string]map[string]struct{}),
		}
		s.convs[in.ConversationID] = c
	}
	if seq, ok := c.byClient[in.ClientMsgID]; ok {
		if m, found := c.bySeq(seq); found {
			return AppendMessageResult{Stored: m, Duplicated: true}, nil
		}
	}

	c.lastSeq++
	msg := StoredMessage{
		ConversationID: in.ConversationID,
		ClientMsgID:    in.ClientMsgID,
		ServerMsgID:    newServerMsgID(now),
		Seq:            c.lastSeq,
		SenderID:       in.SenderID,
		SenderType:     in.SenderType,
		Kind:           in.Kind,
		Body:           in.Body,
		File:           in.File,
		ServerTS:       now,
	}
	c.log = append(c.log, msg)
	c.byClient[msg.ClientMsgID] = msg.Seq
	s.where[msg.ServerMsgID] = msg.ConversationID
	s.trim(c)

	return AppendMessageResult{Stored: msg}, nil
}

func (s *InMemoryStore) trim(c *memConversation) {
	drop := len(c.log) - memConversationCap
	if drop <= 0 {
		return
	}
	for _, old := range c.log[:drop] {
		delete(s.where, old.ServerMsgID)
		delete(c.readers, old.ServerMsgID)
		delete(c.byClient, old.ClientMsgID)
	}
	c.log = append([]StoredMessage(nil), c.log[drop:]...)
}

func (s *InMemoryStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if in.ConversationID == "" {
		return FetchHistoryResult{}, ErrMissingConvID
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}
	limit := historyLimit(in.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return FetchHistoryResult{}, nil
	}
	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(c.log), func(i int) bool { return c.log[i].Seq > after })
	}
	window := c.log[start:]

	res := FetchHistoryResult{HasMore: len(window) > limit}
	if res.HasMore {
		window = window[:limit]
	}
	for _, m := range window {
		res.Messages = append(res.Messages, HistoryMessage{StoredMessage: m, Read: c.readBy(m, in.ReaderID)})
	}
	return res, nil
}

func (s *InMemoryStore) MarkRead(ctx context.Context, in MarkReadInput) (MarkReadResult, error) {
	if in.ServerMsgID == "" || in.ReaderID == "" {
		return MarkReadResult{}, ErrInvalidReceipt
	}
	if err := ctx.Err(); err != nil {
		return MarkReadResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[s.where[in.ServerMsgID]]
	if c == nil {
		return MarkReadResult{}, ErrMessageNotFound
	}
	i := findServerMsg(c.log, in.ServerMsgID)
	if i < 0 {
		return MarkReadResult{}, ErrMessageNotFound
	}
	msg := c.log[i]
	if c.readBy(msg, in.ReaderID) {
		return MarkReadResult{Message: msg}, nil
	}

	set := c.readers[msg.ServerMsgID]
	if set == nil {
		set = make(map[string]struct{})
		c.readers[msg.ServerMsgID] = set
	}
	set[in.ReaderID] = struct{}{}
	return MarkReadResult{Message: msg, Changed: true}, nil
}

func (s *InMemoryStore) UnreadCount(ctx context.Context, conversationID, readerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.convs[conversationID]
	if c == nil {
		return 0, nil
	}
	n := 0
	for _, m := range c.log {
		if !c.readBy(m, readerID) {
			n++
		}
	}
	return n, nil
}

// bySeq finds a message by seq. The log is contiguous, so this is an index
// computation rather than a search.
func (c *memConversation) bySeq(seq int64) (StoredMessage, bool) {
	if len(c.log) == 0 {
		return StoredMessage{}, false
	}
	i := int(seq - c.log[0].Seq)
	if i < 0 || i >= len(c.log) {
		return StoredMessage{}, false
	}
	return c.log[i], true
}

// findServerMsg scans newest first.
func findServerMsg(log []StoredMessage, serverMsgID string) int {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].ServerMsgID == serverMsgID {
			return i
		}
	}
	return -1
}

// readBy treats anonymous readers and the sender as having read m.
func (c *memConversation) readBy(m StoredMessage, readerID string) bool {
	if readerID == "" || m.SenderID == readerID {
		return true
	}
	_, ok := c.readers[m.ServerMsgID][readerID]
	return ok
}
