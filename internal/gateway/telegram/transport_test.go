package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
)

const testToken = "123:abc"

type fakeBotAPI struct {
	mu       sync.Mutex
	calls    []string
	sent     []map[string]any
	sendResp string
}

func newFakeBotAPI(t *testing.T, sendResp string) (*fakeBotAPI, string) {
	t.Helper()
	api := &fakeBotAPI{sendResp: sendResp}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(srv.Close)
	return api, srv.URL
}

func (a *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	method, ok := strings.CutPrefix(r.URL.Path, "/bot"+testToken+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		return
	}

	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.calls = append(a.calls, method)
	if method == "sendMessage" {
		var params map[string]any
		_ = sonic.Unmarshal(body, &params)
		a.sent = append(a.sent, params)
	}
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"cf","username":"cfwatch_bot"}}`)
	case "sendMessage":
		_, _ = io.WriteString(w, a.sendResp)
	default:
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}
}

func (a *fakeBotAPI) callCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == method {
			n++
		}
	}
	return n
}

const sentOK = `{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":-100123,"type":"supergroup"},"text":"hi"}}`

func TestDial_PerformsHandshake(t *testing.T) {
	api, url := newFakeBotAPI(t, sentOK)

	conn, err := New(Options{Token: testToken, APIURL: url}).Dial(context.Background(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if n := api.callCount("getMe"); n != 1 {
		t.Errorf("getMe called %d times, want 1", n)
	}
}

func TestDial_BadToken(t *testing.T) {
	_, url := newFakeBotAPI(t, sentOK)

	if _, err := New(Options{Token: "999:nope", APIURL: url}).Dial(context.Background(), nil); err == nil {
		t.Fatal("Dial with unknown token succeeded")
	}
}

func TestSendGroupMessage(t *testing.T) {
	api, url := newFakeBotAPI(t, sentOK)
	conn, err := New(Options{Token: testToken, APIURL: url}).Dial(context.Background(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	res, err := conn.SendGroupMessage(context.Background(), "-100123", "kira solved 1500A (1500).")
	if err != nil {
		t.Fatalf("SendGroupMessage: %v", err)
	}
	if !res.OK() || res.Message != "message 77" {
		t.Errorf("result = %v, want ok message 77", res)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 1 {
		t.Fatalf("sendMessage called %d times, want 1", len(api.sent))
	}
	if got := api.sent[0]["chat_id"]; got != "-100123" {
		t.Errorf("chat_id = %#v, want -100123", got)
	}
	if got := api.sent[0]["text"]; got != "kira solved 1500A (1500)." {
		t.Errorf("text = %#v", got)
	}
}

func TestSendGroupMessage_PlatformRejection(t *testing.T) {
	tests := []struct {
		name     string
		resp     string
		wantCode int
	}{
		{
			name:     "chat not found",
			resp:     `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			wantCode: 400,
		},
		{
			name:     "flood",
			resp:     `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`,
			wantCode: 429,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := newFakeBotAPI(t, tt.resp)
			conn, err := New(Options{Token: testToken, APIURL: url}).Dial(context.Background(), nil)
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}

			res, err := conn.SendGroupMessage(context.Background(), "-1", "x")
			if err != nil {
				t.Fatalf("SendGroupMessage: %v", err)
			}
			if res.RetCode != tt.wantCode {
				t.Errorf("RetCode = %d, want %d (%v)", res.RetCode, tt.wantCode, res)
			}
		})
	}
}

func TestPing(t *testing.T) {
	api, url := newFakeBotAPI(t, sentOK)
	conn, err := New(Options{Token: testToken, APIURL: url}).Dial(context.Background(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if n := api.callCount("getMe"); n != 2 {
		t.Errorf("getMe called %d times, want 2", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := conn.Ping(ctx); err == nil {
		t.Error("Ping with cancelled context succeeded")
	}
}
