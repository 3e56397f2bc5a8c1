package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestTelegramSendSuccess(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	ch := NewTelegram("token", srv.URL, time.Second, testLogger())
	if err := ch.Send(context.Background(), 42, "BTC price update", ""); err != nil {
		t.Fatalf("Send 应成功: %v", err)
	}

	if received["chat_id"] != float64(42) {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if received["text"] == "" {
		t.Fatalf("text 应非空")
	}
	if _, ok := received["parse_mode"]; ok {
		t.Fatal("空 parse_mode 不应出现在 payload 中")
	}
}

func TestTelegramSendNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	ch := NewTelegram("token", srv.URL, time.Second, testLogger())
	if err := ch.Send(context.Background(), 42, "hello", ""); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramAnswerCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "answerCallbackQuery") {
			t.Fatalf("路径应包含 answerCallbackQuery, 实际 %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	ch := NewTelegram("token", srv.URL, time.Second, testLogger())
	if err := ch.AnswerCallback(context.Background(), "cb-1", "done"); err != nil {
		t.Fatalf("AnswerCallback 应成功: %v", err)
	}
}
