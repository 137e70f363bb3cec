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

	"fed-liquidity/internal/liquidity"
)

// Notification 封装净流动性告警上下文。
type Notification struct {
	Date                 liquidity.Date
	PreviousDate         liquidity.Date
	NetLiquidity         decimal.Decimal
	PreviousNetLiquidity decimal.Decimal
	ChangePct            decimal.Decimal
	ThresholdPct         decimal.Decimal
	Direction            string
	Channels             []string
	TotalAssets          decimal.Decimal
	TGA                  decimal.Decimal
	ReverseRepo          decimal.Decimal
	AdditionalMsg        string
}

// Evaluate compares the net liquidity move between two consecutive
// observations against thresholdPct. It reports false when there is no
// usable baseline or the move stays inside the threshold.
func Evaluate(latest, previous liquidity.Observation, thresholdPct decimal.Decimal) (Notification, bool) {
	latest = latest.WithNetLiquidity()
	previous = previous.WithNetLiquidity()

	change := liquidity.PercentChange(latest.NetLiquidity, previous.NetLiquidity)
	if !change.Valid || !change.Decimal.Abs().GreaterThanOrEqual(thresholdPct) {
		return Notification{}, false
	}

	direction := "up"
	if change.Decimal.IsNegative() {
		direction = "down"
	}
	return Notification{
		Date:                 latest.Date,
		PreviousDate:         previous.Date,
		NetLiquidity:         latest.NetLiquidity,
		PreviousNetLiquidity: previous.NetLiquidity,
		ChangePct:            change.Decimal,
		ThresholdPct:         thresholdPct,
		Direction:            direction,
		TotalAssets:          latest.TotalAssets,
		TGA:                  latest.TGA,
		ReverseRepo:          latest.ReverseRepo,
	}, true
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

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// the bot token is part of the URL
		return fmt.Errorf("send telegram request: %s", strings.ReplaceAll(err.Error(), n.botToken, "<token>"))
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

	n.logger.Info().Str("date", note.Date.String()).
		Str("direction", note.Direction).
		Str("change_pct", note.ChangePct.StringFixed(2)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Fed Net Liquidity Alert]\n")
	builder.WriteString(fmt.Sprintf("Date: %s (vs %s)\n", note.Date, note.PreviousDate))
	builder.WriteString(fmt.Sprintf("Net liquidity: $%sB (prev $%sB)\n", note.NetLiquidity.StringFixed(1), note.PreviousNetLiquidity.StringFixed(1)))
	builder.WriteString(fmt.Sprintf("Change: %s%% (threshold %s%%)\n", note.ChangePct.StringFixed(2), note.ThresholdPct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Direction: %s\n", note.Direction))
	builder.WriteString(fmt.Sprintf("Total assets $%sB | TGA $%sB | ON RRP $%sB\n",
		note.TotalAssets.StringFixed(1), note.TGA.StringFixed(1), note.ReverseRepo.StringFixed(1)))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
