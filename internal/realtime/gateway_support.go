package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

func (g *Gateway) supportRoutes() map[string]route {
	return map[string]route{
		v1.TypeConversationJoin:    {fn: g.onConversationJoin},
		v1.TypeConversationLeave:   {fn: g.onConversationLeave},
		v1.TypeTypingStart:         {fn: g.onTyping},
		v1.TypeTypingStop:          {fn: g.onTyping},
		v1.TypeMessageSend:         {ack: true, fn: g.onMessageSend},
		v1.TypeMessageRead:         {ack: true, fn: g.onMessageRead},
		v1.TypeConversationHistory: {ack: true, fn: g.onHistory},
	}
}

func conversationID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", replyErr(v1.ErrCodeBadPayload, "missing conversationId")
	}
	return id, nil
}

// joinedRoom returns the room of convID when the caller joined it.
func (g *Gateway) joinedRoom(c *call, convID string) (*Room, error) {
	room := g.hub.LookupRoom(v1.NamespaceSupport, convID)
	if room == nil || !room.Has(c.client.SessionID) {
		return nil, replyErr(v1.ErrCodeNotJoined, "join first")
	}
	return room, nil
}

func (g *Gateway) onConversationJoin(ctx context.Context, c *call) (any, error) {
	var p v1.ConversationPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	convID, err := conversationID(p.ConversationID)
	if err != nil {
		return nil, err
	}

	if g.members != nil && !c.client.Principal.IsAdmin() {
		ok, err := g.members.IsMember(ctx, c.client.Principal.ID, convID)
		if err != nil {
			return nil, fmt.Errorf("membership: %w", err)
		}
		if !ok {
			return nil, replyErr(v1.ErrCodeForbidden, "not a member of conversation")
		}
	}

	g.hub.Room(v1.NamespaceSupport, convID).Join(c.client)
	g.push(c.client, newEnvelope(v1.TypeConversationJoined, v1.ConversationPayload{ConversationID: convID}, c.now))
	return nil, nil
}

func (g *Gateway) onConversationLeave(_ context.Context, c *call) (any, error) {
	var p v1.ConversationPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	convID, err := conversationID(p.ConversationID)
	if err != nil {
		return nil, err
	}
	if room := g.hub.LookupRoom(v1.NamespaceSupport, convID); room != nil && room.Leave(c.client.SessionID) {
		g.hub.DropRoom(v1.NamespaceSupport, convID)
	}
	return nil, nil
}

func (g *Gateway) onTyping(_ context.Context, c *call) (any, error) {
	var p v1.ConversationPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	convID, err := conversationID(p.ConversationID)
	if err != nil {
		return nil, err
	}
	room, err := g.joinedRoom(c, convID)
	if err != nil {
		return nil, err
	}
	g.broadcast(room, newEnvelope(c.env.Type, v1.TypingPayload{
		ConversationID: convID,
		SenderID:       c.client.Principal.ID,
	}, c.now), c.client.SessionID)
	return nil, nil
}

func senderType(p Principal) string {
	switch p.Role {
	case v1.RoleAdmin:
		return v1.SenderAdmin
	case v1.RoleGuest:
		return v1.SenderGuest
	default:
		return v1.SenderUser
	}
}

func (g *Gateway) onMessageSend(ctx context.Context, c *call) (any, error) {
	var p v1.MessageSendPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	convID, err := conversationID(p.ConversationID)
	if err != nil {
		return nil, err
	}
	room, err := g.joinedRoom(c, convID)
	if err != nil {
		return nil, err
	}

	kind := p.MessageType
	if kind == "" {
		kind = v1.MessageText
	}
	if !v1.ValidMessageKind(kind) || kind == v1.MessageSystem {
		return nil, replyErr(v1.ErrCodeBadPayload, "invalid messageType")
	}
	if kind == v1.MessageFile && (p.File == nil || strings.TrimSpace(p.File.URL) == "") {
		return nil, replyErr(v1.ErrCodeBadPayload, "file message without file")
	}

	body := strings.TrimSpace(p.Message)
	if body == "" && kind != v1.MessageFile {
		return nil, replyErr(v1.ErrCodeBadPayload, "empty message")
	}
	if utf8.RuneCountInString(body) > maxMessageChars {
		return nil, replyErr(v1.ErrCodeBadPayload, fmt.Sprintf("message too long: max=%d chars", maxMessageChars))
	}

	clientMsgID := strings.TrimSpace(p.ClientMsgID)
	if clientMsgID == "" {
		// Without a client id every send is distinct.
		clientMsgID = c.env.ID
	}

	sender := c.client.Principal
	res, err := g.store.AppendMessage(ctx, AppendMessageInput{
		ConversationID: convID,
		ClientMsgID:    clientMsgID,
		SenderID:       sender.ID,
		SenderType:     senderType(sender),
		Kind:           kind,
		Body:           body,
		File:           p.File,
		Now:            c.now,
	})
	if err != nil {
		return nil, fmt.Errorf("store append: %w", err)
	}

	msg := res.Stored.Wire(true)
	if res.Duplicated {
		return msg, nil
	}

	c.then(func() { g.fanoutMessage(ctx, room, c.client, res.Stored) })
	return msg, nil
}

// fanoutMessage delivers a stored message: message:received to the room,
// conversation:new_message to admins outside it, and a fresh unread count to
// every other reader.
func (g *Gateway) fanoutMessage(ctx context.Context, room *Room, from *Client, m StoredMessage) {
	now := m.ServerTS
	wire := m.Wire(false)

	g.broadcast(room, newEnvelope(v1.TypeMessageReceived, wire, now), from.SessionID)

	outside := g.hub.Clients(v1.NamespaceSupport, func(c *Client) bool {
		return c.Principal.IsAdmin() && !room.Has(c.SessionID)
	})
	for _, c := range outside {
		g.push(c, newEnvelope(v1.TypeConversationNewMessage, v1.NewMessagePayload{
			ConversationID: m.ConversationID,
			Message:        wire,
		}, now))
	}

	readers := append(room.Members(), outside...)
	for _, c := range readers {
		if c.SessionID == from.SessionID || c.Principal.ID == m.SenderID {
			continue
		}
		g.pushUnread(ctx, c, m.ConversationID)
	}
}

// pushUnread sends c its authoritative unread count for convID plus the total
// across the conversations it has joined.
func (g *Gateway) pushUnread(ctx context.Context, c *Client, convID string) {
	p, err := g.unreadFor(ctx, c, convID)
	if err != nil {
		g.log.Warn("ws.unread.fail", "session_id", c.SessionID, "conversation_id", convID, "err", err)
		return
	}
	g.push(c, newEnvelope(v1.TypeConversationUnreadUpdated, p, time.Now().UTC()))
}

func (g *Gateway) unreadFor(ctx context.Context, c *Client, convID string) (v1.UnreadCountPayload, error) {
	reader := c.Principal.ID
	n, err := g.store.UnreadCount(ctx, convID, reader)
	if err != nil {
		return v1.UnreadCountPayload{}, err
	}

	total := n
	for _, r := range g.hub.RoomsOf(v1.NamespaceSupport, c.SessionID) {
		if r.ID == convID {
			continue
		}
		k, err := g.store.UnreadCount(ctx, r.ID, reader)
		if err != nil {
			return v1.UnreadCountPayload{}, err
		}
		total += k
	}
	return v1.UnreadCountPayload{ConversationID: convID, UnreadCount: n, TotalUnreadCount: &total}, nil
}

func (g *Gateway) onMessageRead(ctx context.Context, c *call) (any, error) {
	var p v1.MessageReadPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(p.MessageID)
	if id == "" {
		return nil, replyErr(v1.ErrCodeBadPayload, "missing messageId")
	}

	res, err := g.store.MarkRead(ctx, MarkReadInput{ServerMsgID: id, ReaderID: c.client.Principal.ID, Now: c.now})
	if err != nil {
		return nil, err
	}

	convID := res.Message.ConversationID
	reader := c.client.Principal.ID
	c.then(func() {
		for _, s := range g.hub.ClientsOf(v1.NamespaceSupport, reader) {
			g.pushUnread(ctx, s, convID)
		}
	})
	return v1.MessageReadResult{MessageID: id, ConversationID: convID}, nil
}

func (g *Gateway) onHistory(ctx context.Context, c *call) (any, error) {
	var p v1.HistoryPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	convID, err := conversationID(p.ConversationID)
	if err != nil {
		return nil, err
	}
	if !c.client.Principal.IsAdmin() {
		if _, err := g.joinedRoom(c, convID); err != nil {
			return nil, err
		}
	}

	out, err := g.store.FetchHistory(ctx, FetchHistoryInput{
		ConversationID: convID,
		AfterSeq:       p.AfterSeq,
		Limit:          p.Limit,
		ReaderID:       c.client.Principal.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("store history: %w", err)
	}

	msgs := make([]v1.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, m.Wire(m.Read))
	}
	return v1.HistoryResult{ConversationID: convID, Messages: msgs, HasMore: out.HasMore}, nil
}
