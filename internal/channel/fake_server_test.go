package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// recorded is one client frame seen by fakeServer, tagged with the connection it
// arrived on (1-based, in accept order).
type recorded struct {
	Conn int
	Env  v1.Envelope
}

// fakeServer is a scripted gateway: it answers hello, records every later frame,
// and acks each command unless told otherwise.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	connSeq     int
	conns       map[int]*websocket.Conn
	hellos      []v1.HelloPayload
	frames      []recorded
	rejectCode  string
	closeStatus websocket.StatusCode
	mintGuest   string
	nack        map[string]v1.ErrorPayload
	silent      map[string]bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{
		t:      t,
		conns:  make(map[int]*websocket.Conn),
		nack:   make(map[string]v1.ErrorPayload),
		silent: make(map[string]bool),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(func() {
		f.dropAll()
		f.srv.Close()
	})
	return f
}

// endpoint is the ws:// URL of namespace on this server.
func (f *fakeServer) endpoint(ns string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/" + ns
}

func (f *fakeServer) reject(code string) {
	f.mu.Lock()
	f.rejectCode = code
	f.mu.Unlock()
}

func (f *fakeServer) rejectWithClose(code websocket.StatusCode) {
	f.mu.Lock()
	f.closeStatus = code
	f.mu.Unlock()
}

func (f *fakeServer) mint(guestID string) {
	f.mu.Lock()
	f.mintGuest = guestID
	f.mu.Unlock()
}

func (f *fakeServer) failCommand(typ, code, msg string) {
	f.mu.Lock()
	f.nack[typ] = v1.ErrorPayload{Code: code, Message: msg}
	f.mu.Unlock()
}

func (f *fakeServer) ignore(typ string) {
	f.mu.Lock()
	f.silent[typ] = true
	f.mu.Unlock()
}

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	ctx := r.Context()

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.CloseNow()
		return
	}
	var hello v1.Envelope
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != v1.TypeHello {
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}
	var hp v1.HelloPayload
	_ = hello.Decode(&hp)

	f.mu.Lock()
	f.hellos = append(f.hellos, hp)
	rejectCode, closeStatus, minted := f.rejectCode, f.closeStatus, f.mintGuest
	f.mu.Unlock()

	if closeStatus != 0 {
		_ = conn.Close(closeStatus, "unauthorized")
		return
	}
	if rejectCode != "" {
		f.write(ctx, conn, v1.TypeError, hello.ID, v1.ErrorPayload{Code: rejectCode, Message: "rejected"})
		_ = conn.Close(websocket.StatusCode(v1.CloseUnauthorized), "unauthorized")
		return
	}

	ack := v1.HelloAckPayload{SessionID: "sess-" + hello.ID}
	switch {
	case hp.Token != "":
		ack.Role, ack.IdentityID = v1.RoleUser, "user:"+hp.Token
	case hp.GuestID != "":
		ack.Role, ack.GuestID, ack.IdentityID = v1.RoleGuest, hp.GuestID, hp.GuestID
	default:
		ack.Role, ack.GuestID, ack.IdentityID = v1.RoleGuest, minted, minted
	}

	f.mu.Lock()
	f.connSeq++
	seq := f.connSeq
	f.conns[seq] = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.conns, seq)
		f.mu.Unlock()
	}()

	f.write(ctx, conn, v1.TypeHelloAck, hello.ID, ack)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		f.mu.Lock()
		f.frames = append(f.frames, recorded{Conn: seq, Env: env})
		nack, failed := f.nack[env.Type]
		skip := f.silent[env.Type]
		f.mu.Unlock()

		switch {
		case skip:
		case failed:
			f.write(ctx, conn, v1.TypeAck, env.ID, v1.AckPayload{OK: false, Error: &nack})
		default:
			f.write(ctx, conn, v1.TypeAck, env.ID, v1.AckPayload{OK: true, Result: env.Payload})
		}
	}
}

func (f *fakeServer) write(ctx context.Context, conn *websocket.Conn, typ, replyTo string, payload any) {
	raw, _ := json.Marshal(payload)
	b, _ := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      "srv-" + typ + "-" + time.Now().Format("150405.000000000"),
		ReplyTo: replyTo,
		TS:      time.Now().UTC(),
		Payload: raw,
	})
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, b)
}

// push sends a server event to every live connection.
func (f *fakeServer) push(typ string, payload any) {
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.conns))
	for _, c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		f.write(context.Background(), c, typ, "", payload)
	}
}

// pushRaw writes data verbatim to every live connection.
func (f *fakeServer) pushRaw(data string) {
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.conns))
	for _, c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.Write(ctx, websocket.MessageText, []byte(data))
		cancel()
	}
}

// dropAll kills every live connection without a close handshake.
func (f *fakeServer) dropAll() {
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.conns))
	for _, c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		_ = c.CloseNow()
	}
}

func (f *fakeServer) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeServer) helloLog() []v1.HelloPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]v1.HelloPayload(nil), f.hellos...)
}

// received returns frames of the given connection (0 means all).
func (f *fakeServer) received(conn int) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []recorded
	for _, r := range f.frames {
		if conn == 0 || r.Conn == conn {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeServer) types(conn int) []string {
	var out []string
	for _, r := range f.received(conn) {
		out = append(out, r.Env.Type)
	}
	return out
}

func (f *fakeServer) lastConn() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connSeq
}

// stateRecorder collects StateChange values for assertions.
type stateRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *stateRecorder) record(ch StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, ch)
	r.mu.Unlock()
}

func (r *stateRecorder) all() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.changes...)
}

func (r *stateRecorder) count(to State) int {
	n := 0
	for _, ch := range r.all() {
		if ch.To == to {
			n++
		}
	}
	return n
}

func fastBackoff() BackoffPolicy {
	return BackoffPolicy{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2, Jitter: 0.1}
}

func supportRooms() RoomProtocol {
	return RoomProtocol{
		Join:    v1.TypeConversationJoin,
		Leave:   v1.TypeConversationLeave,
		Payload: func(room string) any { return v1.ConversationPayload{ConversationID: room} },
	}
}

func newTestSession(t *testing.T, f *fakeServer, ns string, cred Credential, opts ...Option) *Session {
	t.Helper()
	base := []Option{WithBackoff(fastBackoff()), WithHeartbeat(0, 0), WithTimeouts(2*time.Second, time.Second, 2*time.Second)}
	s, err := New(f.endpoint(ns), ns, cred, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func roomOf(t *testing.T, env v1.Envelope) string {
	t.Helper()
	var p v1.ConversationPayload
	require.NoError(t, env.Decode(&p))
	return p.ConversationID
}
