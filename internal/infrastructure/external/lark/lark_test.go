package lark

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/dispatcher"
	"github.com/garyjia/p2p-procurement/internal/domain/event"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) SendText(ctx context.Context, receiveID string, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, receiveID+": "+content)
	return nil
}

func newEvent(t event.Type, payload map[string]interface{}) *event.Event {
	return event.NewEvent(t, 7, 3, payload, time.Unix(0, 0))
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		evt  *event.Event
		want string
	}{
		{
			"created",
			newEvent(event.TypeRequestCreated, map[string]interface{}{
				event.KeyTitle: "Laptop", event.KeyAmount: "1500.00", event.KeyVendor: "Tech Corp Solutions",
			}),
			"New purchase request #7: Laptop ($1500.00)\nVendor: Tech Corp Solutions\nAwaiting level 1 approval.",
		},
		{
			"level one approval",
			newEvent(event.TypeStepDecided, map[string]interface{}{
				event.KeyLevel: 1, event.KeyDecision: "approve", event.KeyActor: "lena",
			}),
			"Purchase request #7 cleared level 1 (lena). Awaiting level 2 approval.",
		},
		{
			"level two step is silent",
			newEvent(event.TypeStepDecided, map[string]interface{}{event.KeyLevel: 2, event.KeyDecision: "approve"}),
			"",
		},
		{
			"rejected",
			newEvent(event.TypeRequestRejected, map[string]interface{}{
				event.KeyLevel: 1, event.KeyActor: "lena", event.KeyComment: "too expensive",
			}),
			"Purchase request #7 rejected at level 1 by lena.\nComment: too expensive",
		},
		{
			"approved",
			newEvent(event.TypeRequestApproved, map[string]interface{}{event.KeyTitle: "Laptop", event.KeyAmount: "1500.00"}),
			"Purchase request #7 approved: Laptop ($1500.00)\nPurchase order PO-00007 issued.",
		},
		{
			"completed",
			newEvent(event.TypeRequestCompleted, map[string]interface{}{event.KeyValidation: "MATCH"}),
			"Receipt submitted for purchase request #7. Validation: MATCH.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMessage(tt.evt))
		})
	}
}

func TestNotifier_ThroughDispatcher(t *testing.T) {
	sender := &recordingSender{}
	d := dispatcher.NewDispatcher()
	NewNotifier(sender, "oc_chat", zap.NewNop()).Register(d)

	d.DispatchAsync(context.Background(),
		newEvent(event.TypeRequestCreated, map[string]interface{}{event.KeyTitle: "Laptop", event.KeyAmount: "1.00"}),
		newEvent(event.TypeStepDecided, map[string]interface{}{event.KeyLevel: 2, event.KeyDecision: "approve"}),
	)
	require.NoError(t, d.Close())

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "oc_chat: New purchase request #7")
}

func TestNotifier_PropagatesSendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("rate limited")}
	n := NewNotifier(sender, "oc_chat", zap.NewNop())

	err := n.Handle(context.Background(), newEvent(event.TypeRequestCompleted, nil))
	assert.Error(t, err)
}

func TestMessenger_SendText(t *testing.T) {
	var (
		mu      sync.Mutex
		bodies  []map[string]interface{}
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/open-apis/auth/v3/tenant_access_token/internal":
			_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`))
		case "/open-apis/im/v1/messages":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			bodies = append(bodies, body)
			queries = append(queries, r.URL.RawQuery)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":{"message_id":"om_1"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	sdk := NewSDKClient(Config{AppID: "cli_test", AppSecret: "secret", BaseURL: srv.URL}, zap.NewNop())
	m := NewMessenger(sdk, zap.NewNop())

	require.NoError(t, m.SendText(context.Background(), "oc_chat", `Laptop "urgent"`))

	require.Len(t, bodies, 1)
	assert.Equal(t, "receive_id_type=chat_id", queries[0])
	assert.Equal(t, "oc_chat", bodies[0]["receive_id"])
	assert.Equal(t, "text", bodies[0]["msg_type"])
	assert.JSONEq(t, `{"text":"Laptop \"urgent\""}`, bodies[0]["content"].(string))

	assert.Error(t, m.SendText(context.Background(), "", "x"))
	assert.Error(t, m.SendText(context.Background(), "oc_chat", ""))
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{AppID: "a", AppSecret: "b"}.Enabled())
	assert.True(t, Config{AppID: "a", AppSecret: "b", ChatID: "c"}.Enabled())
}
