package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type telegramServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	messages []map[string]string
	failOn   int // 1-based sendMessage call that fails; 0 never
}

func newTelegramServer(t *testing.T, token string) *telegramServer {
	t.Helper()
	ts := &telegramServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasPrefix(r.URL.Path, "/bot"+token+"/") {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
			return
		}
		switch strings.TrimPrefix(r.URL.Path, "/bot"+token+"/") {
		case "getMe":
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"briefd","username":"briefd_bot"}}`)
		case "sendMessage":
			r.ParseForm()
			ts.mu.Lock()
			ts.messages = append(ts.messages, map[string]string{
				"chat_id":                  r.Form.Get("chat_id"),
				"text":                     r.Form.Get("text"),
				"disable_web_page_preview": r.Form.Get("disable_web_page_preview"),
			})
			n := len(ts.messages)
			ts.mu.Unlock()
			if n == ts.failOn {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *telegramServer) sender(token string) *Telegram {
	return NewTelegram(TelegramConfig{
		Endpoint:   ts.srv.URL + "/bot%s/%s",
		BotToken:   token,
		Delay:      time.Millisecond,
		HTTPClient: ts.srv.Client(),
	})
}

func TestTelegram_SingleMessage(t *testing.T) {
	ts := newTelegramServer(t, "tok")

	out := ts.sender("tok").Send(context.Background(), TelegramTarget{ChatID: "42"}, Message{Title: "News", Text: "hello"})
	if !out.Success {
		t.Fatalf("Send failed: %s", out.Error)
	}
	if len(ts.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(ts.messages))
	}
	m := ts.messages[0]
	if m["chat_id"] != "42" {
		t.Errorf("chat_id = %q, want 42", m["chat_id"])
	}
	if m["text"] != "[News]\nhello" {
		t.Errorf("text = %q, want %q", m["text"], "[News]\nhello")
	}
	if m["disable_web_page_preview"] != "true" {
		t.Errorf("disable_web_page_preview = %q, want true", m["disable_web_page_preview"])
	}
}

func TestTelegram_ChannelUsername(t *testing.T) {
	ts := newTelegramServer(t, "tok")

	out := ts.sender("tok").Send(context.Background(), TelegramTarget{ChatID: "mychannel"}, Message{Title: "N", Text: "x"})
	if !out.Success {
		t.Fatalf("Send failed: %s", out.Error)
	}
	if got := ts.messages[0]["chat_id"]; got != "@mychannel" {
		t.Errorf("chat_id = %q, want @mychannel", got)
	}
}

func TestTelegram_LongTextIsChunked(t *testing.T) {
	ts := newTelegramServer(t, "tok")
	text := strings.Repeat(strings.Repeat("y", 3000)+"\n\n", 3)

	out := ts.sender("tok").Send(context.Background(), TelegramTarget{ChatID: "42"}, Message{Title: "Big", Text: text})
	if !out.Success {
		t.Fatalf("Send failed: %s", out.Error)
	}
	if out.TotalChunks != 3 || out.SentCount != 3 {
		t.Errorf("sent %d/%d, want 3/3", out.SentCount, out.TotalChunks)
	}
	for i, m := range ts.messages {
		want := fmt.Sprintf("[Big] (%d/3)\n", i+1)
		if !strings.HasPrefix(m["text"], want) {
			t.Errorf("message %d does not start with %q", i, want)
		}
	}
}

func TestTelegram_ProviderErrorNormalized(t *testing.T) {
	ts := newTelegramServer(t, "tok")
	ts.failOn = 1

	out := ts.sender("tok").Send(context.Background(), TelegramTarget{ChatID: "42"}, Message{Title: "N", Text: "x"})
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.Error != "Bad Request: chat not found" {
		t.Errorf("Error = %q, want provider description", out.Error)
	}
}

func TestTelegram_PartialFailure(t *testing.T) {
	ts := newTelegramServer(t, "tok")
	ts.failOn = 2
	text := strings.Repeat(strings.Repeat("y", 3000)+"\n\n", 3)

	out := ts.sender("tok").Send(context.Background(), TelegramTarget{ChatID: "42"}, Message{Title: "Big", Text: text})
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.SentCount != 1 || out.TotalChunks != 3 {
		t.Errorf("sent %d/%d, want 1/3", out.SentCount, out.TotalChunks)
	}
	if len(ts.messages) != 2 {
		t.Errorf("server saw %d sends, want 2", len(ts.messages))
	}
}

func TestTelegram_MissingCredentials(t *testing.T) {
	ts := newTelegramServer(t, "tok")

	out := ts.sender("").Send(context.Background(), TelegramTarget{ChatID: "42"}, Message{Text: "x"})
	if out.Success || !errors.Is(out.Err, ErrMissingCredential) {
		t.Errorf("missing token: got %+v, want ErrMissingCredential", out)
	}

	out = ts.sender("tok").Send(context.Background(), TelegramTarget{}, Message{Text: "x"})
	if out.Success || !errors.Is(out.Err, ErrMissingDestination) {
		t.Errorf("missing chat id: got %+v, want ErrMissingDestination", out)
	}
	if len(ts.messages) != 0 {
		t.Errorf("server saw %d sends, want 0", len(ts.messages))
	}
}

func TestTelegram_TargetTokenOverridesDefault(t *testing.T) {
	ts := newTelegramServer(t, "bundle-token")

	out := ts.sender("global-token").Send(context.Background(),
		TelegramTarget{ChatID: "42", BotToken: "bundle-token"}, Message{Title: "N", Text: "x"})
	if !out.Success {
		t.Fatalf("Send failed: %s", out.Error)
	}
}

func TestTelegram_InvalidToken(t *testing.T) {
	ts := newTelegramServer(t, "tok")

	out := ts.sender("wrong").Send(context.Background(), TelegramTarget{ChatID: "42"}, Message{Text: "x"})
	if out.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(out.Error, "Unauthorized") {
		t.Errorf("Error = %q, want it to mention Unauthorized", out.Error)
	}
}
