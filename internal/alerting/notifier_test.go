package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
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

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{
		At:         time.Now(),
		Kind:       KindDivergenceHaircut,
		DeltaBps:   decimal.NewFromInt(60),
		HaircutBps: decimal.NewFromInt(65),
		Channels:   []string{"telegram"},
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "divergence_haircut") {
		t.Fatalf("text 应包含事件类型: %s", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{At: time.Now(), Kind: KindAomqActivated, Trigger: "divergence", Notional: decimal.NewFromInt(100)}

	if err := notifier.Notify(context.Background(), note); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessageRecenter(t *testing.T) {
	note := Notification{
		At:           time.Now(),
		Kind:         KindRecenterCommitted,
		Mid:          decimal.NewFromInt(100),
		NewTarget:    decimal.NewFromInt(1000),
		DeviationBps: decimal.NewFromInt(300),
		Manual:       true,
	}
	text := renderMessage(note)
	for _, want := range []string{"recenter_committed", "New target: 1000", "Manual: true"} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息应包含 %q: %s", want, text)
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
