// Package notify alerts operators about market lifecycle events over Telegram
// and Discord. It implements domain.EventSink so the engine publishes into it
// directly; events can be filtered so operators only hear about settlements,
// for example, and not every market creation.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/betmatch/betmatch/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches lifecycle events to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool // allowed event types; empty allows all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose type appears in events are forwarded; an empty list allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish implements domain.EventSink. Delivery failures are logged, never
// propagated: a dead webhook must not fail a settlement.
func (n *Notifier) Publish(ctx context.Context, e domain.Event) {
	if len(n.events) > 0 && !n.events[e.Type] {
		return
	}

	title, message := formatEvent(e)
	n.dispatch(ctx, title, message)
}

func formatEvent(e domain.Event) (title, message string) {
	m := e.Market
	switch e.Type {
	case domain.EventMarketCreated:
		return "Market created",
			fmt.Sprintf("#%d %q: %s stakes %s at %s odds",
				m.ID, m.Title, m.CreatorID, m.StakeAmount, m.Odds)
	case domain.EventMarketJoined:
		counterparty := ""
		if m.CounterpartyID != nil {
			counterparty = *m.CounterpartyID
		}
		return "Market joined",
			fmt.Sprintf("#%d %q: %s joined with %s, pot now %s",
				m.ID, m.Title, counterparty, m.CounterpartyStakeAmount, m.TotalPot())
	case domain.EventMarketSettled:
		settlement := ""
		if m.Settlement != nil {
			settlement = string(*m.Settlement)
		}
		return "Market settled",
			fmt.Sprintf("#%d %q settled as %s, pot %s",
				m.ID, m.Title, settlement, m.TotalPot())
	case domain.EventMarketCancelled:
		return "Market cancelled",
			fmt.Sprintf("#%d %q cancelled, %s refunded to %s",
				m.ID, m.Title, m.StakeAmount, m.CreatorID)
	default:
		return string(e.Type), fmt.Sprintf("market #%d", m.ID)
	}
}

// dispatch sends the notification to every sender. A single sender failure
// does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}
