package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to one chat through the Bot API sendMessage
// method, formatted as MarkdownV2.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

// telegramReply is the Bot API error envelope.
type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      renderTelegram(alert),
		ParseMode: "MarkdownV2",
		// fills are routine; only warnings and worse ring the phone
		DisableNotification: alert.Level == AlertInfo,
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	if err := postJSON(ctx, t.client, url, nil, msg, telegramStatus); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Printf("[telegram] sent %s alert: %s", alert.Level, alert.Title)
	return nil
}

func telegramStatus(resp *http.Response) *statusError {
	var reply telegramReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return &statusError{Code: resp.StatusCode}
	}
	return &statusError{
		Code:   resp.StatusCode,
		Detail: reply.Description,
		Wait:   time.Duration(reply.Parameters.RetryAfter) * time.Second,
	}
}

var levelMark = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// renderTelegram lays out a trade fill as a small card and any other alert
// as a title with its message.
func renderTelegram(a Alert) string {
	var b strings.Builder
	mark := levelMark[a.Level]
	if mark == "" {
		mark = levelMark[AlertInfo]
	}
	title := a.Title
	if a.Instrument != "" {
		title += " " + a.Instrument
	}
	fmt.Fprintf(&b, "%s *%s*\n", mark, mdEscaper.Replace(title))

	if tr := a.Trade; tr != nil {
		fmt.Fprintf(&b, "\n%s %d @ %s\n", tr.Side, tr.Qty, mdEscaper.Replace(fmt.Sprintf("%.2f", tr.Price)))
		if tr.StopLoss > 0 || tr.Target > 0 {
			fmt.Fprintf(&b, "stop %s · target %s\n",
				mdEscaper.Replace(fmt.Sprintf("%.2f", tr.StopLoss)),
				mdEscaper.Replace(fmt.Sprintf("%.2f", tr.Target)))
		}
		if tr.OrderID != "" {
			fmt.Fprintf(&b, "order %s\n", mdEscaper.Replace(tr.OrderID))
		}
	}
	if a.Message != "" {
		fmt.Fprintf(&b, "\n%s", mdEscaper.Replace(a.Message))
	}
	if a.GroupID != "" {
		fmt.Fprintf(&b, "\n_group %s_", mdEscaper.Replace(a.GroupID))
	}
	return strings.TrimRight(b.String(), "\n")
}

// mdEscaper escapes the MarkdownV2 reserved characters.
var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)
