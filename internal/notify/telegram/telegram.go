// Package telegram implements publish.Sink as a Telegram notification
// channel (SPEC_FULL.md's supplemented notification surface). Grounded
// on the full-repo NotificationService in the sniperterminal example:
// the same bot-API client and the same fire-and-forget goroutine send so
// a slow or failing Telegram API call never blocks the publish pipeline.
// The chat ID comes only from New or SetChatID; this package does not
// read inbound messages, so it never captures a chat ID on its own.
package telegram

import (
	"fmt"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tradeengine/internal/logger"
	"tradeengine/internal/model"
)

// Sink is a Telegram-backed publish.Sink. The zero value is not usable;
// construct with New.
type Sink struct {
	bot    *tgbotapi.BotAPI
	chatID int64 // atomic: set by New or SetChatID
	log    *logger.Logger
}

// New constructs a Sink from a bot token. chatID may be zero, in which
// case no message is sent until SetChatID is called.
func New(token string, chatID int64) (*Sink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Sink{bot: bot, chatID: chatID, log: logger.With("component", "notify_telegram")}, nil
}

// SetChatID records the chat to notify, overwriting any previous value.
func (s *Sink) SetChatID(chatID int64) {
	atomic.StoreInt64(&s.chatID, chatID)
}

func (s *Sink) send(text string) {
	chatID := atomic.LoadInt64(&s.chatID)
	if chatID == 0 {
		return
	}
	go func() {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = "Markdown"
		if _, err := s.bot.Send(msg); err != nil {
			s.log.Warnf("notify_telegram: send failed: %v", err)
		}
	}()
}

// TradeEntry notifies on a confirmed position entry.
func (s *Sink) TradeEntry(ev model.TradeEntryEvent) {
	s.send(fmt.Sprintf(
		"*ENTRY CONFIRMED*\n*%s* %s\nEntry: %s | Stop: %s | Target: %s\nQty: %d | Order: `%s`",
		ev.ScripCode, ev.Direction, ev.EntryPrice.StringFixed(2), ev.StopLoss.StringFixed(2),
		ev.TakeProfit.StringFixed(2), ev.Quantity, ev.OrderID,
	))
}

// TradeResult notifies on a closed trade.
func (s *Sink) TradeResult(tr model.TradeResult) {
	icon := "\U0001F7E2"
	if tr.PnL.IsNegative() {
		icon = "\U0001F534"
	}
	s.send(fmt.Sprintf(
		"%s *TRADE CLOSED* %s\nEntry: %s -> Exit: %s\nPnL: %s (%s R) | Reason: %s",
		icon, tr.ScripCode, tr.EntryPrice.StringFixed(2), tr.ExitPrice.StringFixed(2),
		tr.PnL.StringFixed(2), tr.RMultiple.StringFixed(2), tr.ExitReason,
	))
}

// ProfitLoss notifies on portfolio-level or trade-exit PnL snapshots.
// Trade-exit events are already covered by TradeResult, so only
// portfolio snapshots are forwarded here to avoid duplicate alerts.
func (s *Sink) ProfitLoss(ev model.ProfitLossEvent) {
	if ev.EventType != model.PLPortfolioUpdate {
		return
	}
	s.send(fmt.Sprintf("*PORTFOLIO UPDATE*\nSession PnL: %s", ev.PnL.StringFixed(2)))
}

// RiskEvent notifies on a risk gate rejection or circuit-breaker trip.
func (s *Sink) RiskEvent(ev model.RiskEvent) {
	icon := "ℹ️"
	switch ev.Severity {
	case model.SeverityWarning:
		icon = "⚠️"
	case model.SeverityCritical:
		icon = "\U0001F6A8"
	}
	s.send(fmt.Sprintf("%s *%s*\n%s", icon, ev.Type, ev.Message))
}
