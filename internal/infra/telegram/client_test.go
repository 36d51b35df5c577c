package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123:abc"

// fakeBotAPI serves the Bot API methods the client uses
type fakeBotAPI struct {
	mu        sync.Mutex
	sent      []map[string]string
	actions   []string
	updates   string
	sendError string
	block     chan struct{}
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if !strings.HasPrefix(r.URL.Path, "/bot"+testToken+"/") {
		writeAPI(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
		return
	}

	switch method {
	case "getMe":
		writeAPI(w, `{"ok":true,"result":{"id":999,"is_bot":true,"first_name":"C3Poh","username":"c3pohbot"}}`)
	case "getUpdates":
		if f.block != nil {
			<-f.block
		}
		writeAPI(w, `{"ok":true,"result":`+f.updates+`}`)
	case "sendMessage":
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{"chat_id": r.FormValue("chat_id"), "text": r.FormValue("text")})
		errBody := f.sendError
		f.mu.Unlock()
		if errBody != "" {
			writeAPI(w, errBody)
			return
		}
		writeAPI(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`)
	case "sendChatAction":
		f.mu.Lock()
		f.actions = append(f.actions, r.FormValue("action"))
		f.mu.Unlock()
		writeAPI(w, `{"ok":true,"result":true}`)
	default:
		writeAPI(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func writeAPI(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, api *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(testToken, srv.URL+"/bot%s/%s", 2*time.Second)
	require.NoError(t, err)
	return c
}

func TestNewClient_VerifiesToken(t *testing.T) {
	srv := httptest.NewServer(&fakeBotAPI{})
	defer srv.Close()

	_, err := NewClient("bad:token", srv.URL+"/bot%s/%s", time.Second)
	assert.Error(t, err)

	c, err := NewClient(testToken, srv.URL+"/bot%s/%s", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "c3pohbot", c.Self().UserName)

	me, err := c.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(999), me.ID)
}

func TestClient_GetUpdates(t *testing.T) {
	api := &fakeBotAPI{updates: `[{"update_id":5,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"A"},"text":"hello"}}]`}
	c := newTestClient(t, api)

	updates, err := c.GetUpdates(context.Background(), 5, time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, 5, updates[0].UpdateID)
	assert.Equal(t, "hello", updates[0].Message.Text)
}

func TestClient_GetUpdatesAbandonedOnCancel(t *testing.T) {
	api := &fakeBotAPI{updates: `[]`, block: make(chan struct{})}
	c := newTestClient(t, api)
	// Cleanups run last-in first-out: release the handler before the server closes.
	t.Cleanup(func() { close(api.block) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.GetUpdates(ctx, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_SendMessageAndAction(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestClient(t, api)

	require.NoError(t, c.SendMessage(context.Background(), 42, "hi there"))
	require.NoError(t, c.SendChatAction(context.Background(), 42, tgbotapi.ChatTyping))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sent, 1)
	assert.Equal(t, "42", api.sent[0]["chat_id"])
	assert.Equal(t, "hi there", api.sent[0]["text"])
	assert.Equal(t, []string{"typing"}, api.actions)
}

func TestClient_SendMessageAPIError(t *testing.T) {
	api := &fakeBotAPI{sendError: `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 2","parameters":{"retry_after":2}}`}
	c := newTestClient(t, api)

	err := c.SendMessage(context.Background(), 42, "hi")
	require.Error(t, err)

	var apiErr *tgbotapi.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, 2, apiErr.RetryAfter)
}

func TestClient_CanceledContextSkipsRequest(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestClient(t, api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.SendMessage(ctx, 42, "hi"), context.Canceled)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.sent)
}
