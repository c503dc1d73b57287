// Package notify delivers user-facing messages. Delivery and
// read-state tracking live outside this service; the Notifier port only
// hands a structured message to whatever channel is wired in.
package notify

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// Message is one outbound notification.
type Message struct {
	UserID     string `json:"user_id"`
	ContractID string `json:"contract_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	Kind       string `json:"kind"`
	Body       string `json:"body"`
}

// Notifier sends a message to the user's channel.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the structured log. The default sink
// for local runs and the last-resort channel in production.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification",
		"user_id", msg.UserID,
		"contract_id", msg.ContractID,
		"kind", msg.Kind,
		"body", msg.Body)
	return nil
}

// ThrottledNotifier wraps a Notifier with a token-bucket rate limit so
// a large scan cannot flood the downstream channel. Send blocks until a
// token is available or ctx is done.
type ThrottledNotifier struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewThrottledNotifier allows perSecond sends with the given burst.
func NewThrottledNotifier(next Notifier, perSecond float64, burst int) *ThrottledNotifier {
	return &ThrottledNotifier{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (n *ThrottledNotifier) Send(ctx context.Context, msg Message) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	return n.next.Send(ctx, msg)
}
