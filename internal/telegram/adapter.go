// Package telegram relays session notices to an operator chat and accepts
// a few operator commands back.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/LinuxSuRen/wechaty/internal/normalize"
	"github.com/LinuxSuRen/wechaty/internal/puppet"
	"github.com/LinuxSuRen/wechaty/internal/types"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

const (
	maxTelegramMessage = 4096
	outboxSize         = 64
)

// Bot is the subset of *tgbotapi.BotAPI the notifier uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Session is the puppet surface the notifier observes and drives.
type Session interface {
	Events() *puppet.Events
	Status() puppet.Status
	Logout(ctx context.Context) error
}

type Option func(*Notifier)

// WithMirror also forwards every inbound text message to the operator chat.
func WithMirror() Option {
	return func(n *Notifier) { n.mirror = true }
}

// Notifier bridges session events to one Telegram chat.
type Notifier struct {
	bot     Bot
	chatID  int64
	session Session
	mirror  bool
	outbox  chan string
	log     *slog.Logger
}

// New creates a notifier backed by a real bot.
func New(token string, chatID int64, session Session, opts ...Option) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return NewWithBot(bot, chatID, session, opts...), nil
}

func NewWithBot(bot Bot, chatID int64, session Session, opts ...Option) *Notifier {
	n := &Notifier{
		bot:     bot,
		chatID:  chatID,
		session: session,
		outbox:  make(chan string, outboxSize),
		log:     slog.With("component", "telegram"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start subscribes to session events and long-polls for operator commands
// until ctx is done.
func (n *Notifier) Start(ctx context.Context) {
	ev := n.session.Events()
	cancels := []func(){
		ev.Scan.Subscribe(n.onScan),
		ev.Login.Subscribe(func(id string) { n.notify(fmt.Sprintf("Logged in as %s", id)) }),
		ev.Logout.Subscribe(func(id string) { n.notify(fmt.Sprintf("Logged out: %s", id)) }),
		ev.Error.Subscribe(n.onError),
	}
	if n.mirror {
		cancels = append(cancels, ev.Message.Subscribe(n.onMessage))
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.drainOutbox(ctx)
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := n.bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				<-ctx.Done()
				<-done
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			n.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			n.bot.StopReceivingUpdates()
			<-done
			return
		}
	}
}

// notify queues text without blocking the event bus. A full outbox drops it.
func (n *Notifier) notify(text string) {
	select {
	case n.outbox <- text:
	default:
		n.log.Warn("outbox full, dropping notice")
	}
}

func (n *Notifier) drainOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.outbox:
			n.sendResponse(n.chatID, text)
		}
	}
}

func (n *Notifier) onScan(data webschema.ScanData) {
	if data.URL == "" {
		return
	}
	n.notify(fmt.Sprintf("Scan to log in (code %d):\n%s", data.Code, data.URL))
}

func (n *Notifier) onError(err error) {
	kind := types.KindOf(err)
	if kind == "" {
		kind = "ERROR"
	}
	n.notify(fmt.Sprintf("%s: %v", kind, err))
}

func (n *Notifier) onMessage(msg *types.Message) {
	if msg.Type != types.MessageTypeText {
		return
	}
	from := msg.FromID
	if msg.RoomID != "" {
		from = msg.RoomID + " / " + from
	}
	n.notify(fmt.Sprintf("*%s*\n%s", from, normalize.Markdown(msg.Text)))
}

func (n *Notifier) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Chat.ID != n.chatID {
		n.log.Debug("ignoring message from foreign chat")
		return
	}
	if !msg.IsCommand() {
		return
	}

	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		n.sendResponse(chatID, "Available: /status, /logout")

	case "status":
		n.sendResponse(chatID, renderStatus(n.session.Status()))

	case "logout":
		if err := n.session.Logout(ctx); err != nil {
			n.sendResponse(chatID, fmt.Sprintf("Logout failed: %v", err))
			return
		}
		n.sendResponse(chatID, "Logout requested.")

	default:
		n.sendResponse(chatID, "Unknown command. Available: /status, /logout")
	}
}

func renderStatus(st puppet.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s since %s\n", st.State, st.Since.Format(time.RFC3339))
	if st.UserID != "" {
		fmt.Fprintf(&b, "User: %s\n", st.UserID)
	}
	if st.Scan != nil {
		fmt.Fprintf(&b, "Pending scan: %s\n", st.Scan.URL)
	}
	fmt.Fprintf(&b, "Connectivity due in: %s", st.ConnectivityDue.Round(time.Second))
	return b.String()
}

func (n *Notifier) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := n.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := n.bot.Send(msg); err != nil {
				n.log.Warn("send message failed", "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
