package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind 区分告警类型。
type Kind string

const (
	KindDivergenceHaircut  Kind = "divergence_haircut"
	KindDivergenceRejected Kind = "divergence_rejected"
	KindAomqActivated      Kind = "aomq_activated"
	KindRecenterCommitted  Kind = "recenter_committed"
)

// Notification 封装一次引擎风险事件的告警上下文。
type Notification struct {
	At            time.Time
	Kind          Kind
	DeltaBps      decimal.Decimal
	HaircutBps    decimal.Decimal
	Trigger       string
	Notional      decimal.Decimal
	Mid           decimal.Decimal
	NewTarget     decimal.Decimal
	DeviationBps  decimal.Decimal
	Manual        bool
	Channels      []string
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Time("at", note.At).
		Str("kind", string(note.Kind)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[AMM Quote Engine Alert]\n")
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Kind: %s\n", note.Kind))

	switch note.Kind {
	case KindDivergenceHaircut:
		builder.WriteString(fmt.Sprintf("Delta: %s bps\n", note.DeltaBps.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Haircut: %s bps\n", note.HaircutBps.StringFixed(2)))
	case KindDivergenceRejected:
		builder.WriteString(fmt.Sprintf("Delta: %s bps\n", note.DeltaBps.StringFixed(2)))
	case KindAomqActivated:
		builder.WriteString(fmt.Sprintf("Trigger: %s\n", note.Trigger))
		builder.WriteString(fmt.Sprintf("Notional: %s\n", note.Notional.String()))
	case KindRecenterCommitted:
		builder.WriteString(fmt.Sprintf("Mid: %s\n", note.Mid.String()))
		builder.WriteString(fmt.Sprintf("New target: %s\n", note.NewTarget.String()))
		builder.WriteString(fmt.Sprintf("Deviation: %s bps\n", note.DeviationBps.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Manual: %t\n", note.Manual))
	}

	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
