// Package alert implements the Alert Formatter and Sink of SPEC_FULL.md
// §4.9: a kind-specific message renderer plus a best-effort delivery
// channel to an external messaging service.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ChoSanghyuk/whalewatch/internal/model"
)

// Sink delivers a rendered message to an external channel. Delivery is
// best-effort: callers log and count failures but never retry (§4.9).
type Sink interface {
	Send(ctx context.Context, text string) error
}

var kindTable = map[model.AlertKind]struct {
	glyph string
	verb  string
}{
	model.KindBuy:  {"🟢", "bought"},
	model.KindSell: {"🔴", "sold"},
	model.KindMint: {"🌱", "minted"},
	model.KindBurn: {"🔥", "burned"},
}

// Format renders an AlertRecord into a Markdown message for the Sink,
// per the kind/glyph/verb table and magnitude-adaptive precision of §4.9.
func Format(rec model.AlertRecord, desc model.ChainDescriptor) string {
	kind, ok := kindTable[rec.Kind]
	if !ok {
		kind = struct {
			glyph string
			verb  string
		}{"❔", string(rec.Kind)}
	}

	amountF, _ := rec.Amount.Float64()
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s whale %s %s %s*\n", kind.glyph, desc.DisplayName, kind.verb, formatAmount(amountF), rec.TokenSymbol)
	fmt.Fprintf(&b, "Rank #%d · $%s\n", rec.Rank, formatAmount(rec.USDValue))
	fmt.Fprintf(&b, "Price: %s\n", formatPrice(rec.USDValue/maxFloat(amountF, 1e-18)))
	fmt.Fprintf(&b, "Whale: `%s`\n", shortAddr(rec.Whale.Hex()))
	if desc.ExplorerBaseURL != "" {
		fmt.Fprintf(&b, "[Tx](%s/tx/%s) · [Address](%s/address/%s)",
			strings.TrimRight(desc.ExplorerBaseURL, "/"), rec.TxHash.Hex(),
			strings.TrimRight(desc.ExplorerBaseURL, "/"), rec.Whale.Hex())
	}
	return b.String()
}

// System renders a system notice (degradation, stale-chain, consecutive
// error escalation) distinguishable from whale alerts by its glyph.
func System(text string) string {
	return fmt.Sprintf("⚠️ *System notice*\n%s", text)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func formatAmount(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.2fK", v/1e3)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func formatPrice(p float64) string {
	abs := math.Abs(p)
	switch {
	case abs >= 1:
		return fmt.Sprintf("$%.4f", p)
	case abs >= 1e-4:
		return fmt.Sprintf("$%.6f", p)
	default:
		return fmt.Sprintf("$%.10f", p)
	}
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// TelegramSink delivers messages via the Telegram Bot API sendMessage
// endpoint, grounded on spec §6(e) / original_source's TG_TOKEN and
// TG_CHAT_ID configuration.
type TelegramSink struct {
	BotToken   string
	ChatID     string
	HTTPClient *http.Client
	// BaseURL overrides the Telegram API root, for tests. Empty means the
	// real Telegram API.
	BaseURL string

	errorCount int64
}

type telegramPayload struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (s *TelegramSink) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramPayload{
		ChatID:                s.ChatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
	if err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		return fmt.Errorf("alert: marshal payload: %w", err)
	}

	base := s.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, s.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		return fmt.Errorf("alert: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&s.errorCount, 1)
		log.Printf("[alert] telegram sink: non-200 response %d", resp.StatusCode)
		return fmt.Errorf("alert: telegram returned %d", resp.StatusCode)
	}
	return nil
}

// ErrorCount returns the number of failed deliveries observed so far.
func (s *TelegramSink) ErrorCount() int64 {
	return atomic.LoadInt64(&s.errorCount)
}

func (s *TelegramSink) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Notifier binds a Sink to the Format/System renderers so callers never
// hand-assemble message text.
type Notifier struct {
	Sink Sink
}

// Alert formats and delivers a whale-transfer alert.
func (n *Notifier) Alert(ctx context.Context, rec model.AlertRecord, desc model.ChainDescriptor) error {
	return n.Sink.Send(ctx, Format(rec, desc))
}

// Notice formats and delivers a system notice.
func (n *Notifier) Notice(ctx context.Context, text string) error {
	return n.Sink.Send(ctx, System(text))
}
