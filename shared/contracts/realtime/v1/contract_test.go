package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ok := Envelope{V: Version, Type: TypeHello, ID: "e1", TS: time.Now().UTC()}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name string
		env  Envelope
	}{
		{name: "missing version", env: Envelope{Type: TypeHello, ID: "e1"}},
		{name: "wrong version", env: Envelope{V: "v0", Type: TypeHello, ID: "e1"}},
		{name: "missing type", env: Envelope{V: Version, ID: "e1"}},
		{name: "missing id", env: Envelope{V: Version, Type: TypeHello}},
	}
	for _, tc := range cases {
		if err := tc.env.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestKnownIsScopedByNamespace(t *testing.T) {
	t.Parallel()

	if !Known(NamespaceSupport, TypeMessageSend) {
		t.Fatalf("message:send must be known on support")
	}
	if Known(NamespaceNotifications, TypeMessageSend) {
		t.Fatalf("message:send must not be known on notifications")
	}
	if !Known(NamespaceWidget, TypeAck) {
		t.Fatalf("common types are known everywhere")
	}
	if Known("billing", TypeWidgetInit) {
		t.Fatalf("unknown namespace must not know anything but common types")
	}
}

func TestMessageWireNames(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Message{ID: "m1", ConversationID: "C1", Body: "hi", Kind: MessageText})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"conversationId", "message", "messageType", "isRead"} {
		if _, ok := raw[k]; !ok {
			t.Fatalf("missing wire key %q in %s", k, b)
		}
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	t.Parallel()

	var p NotificationMarkAllReadResult
	if err := (Envelope{}).Decode(&p); err != nil {
		t.Fatalf("decode empty: %v", err)
	}
}
