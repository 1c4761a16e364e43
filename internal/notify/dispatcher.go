package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Outcome reports which channels delivered a message.
type Outcome struct {
	Email    bool `json:"email"`
	WhatsApp bool `json:"whatsapp"`
}

// Any reports whether at least one channel succeeded.
func (o Outcome) Any() bool { return o.Email || o.WhatsApp }

// Dispatcher fans a message out to the email and WhatsApp channels.
// A failure of one channel never affects the other.
type Dispatcher struct {
	email    Notifier
	whatsapp Notifier
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. Either channel may be nil.
func NewDispatcher(email, whatsapp Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{email: email, whatsapp: whatsapp, logger: logger}
}

// Dispatch sends msg on every channel that has a recipient, one after the other.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Outcome {
	var out Outcome
	if msg.Email != "" {
		out.Email = d.send(ctx, d.email, msg)
	}
	if msg.Phone != "" {
		out.WhatsApp = d.send(ctx, d.whatsapp, msg)
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, n Notifier, msg Message) bool {
	if n == nil {
		return false
	}
	name := n.Name()
	err := n.Notify(ctx, msg)
	switch {
	case err == nil:
		notificationsTotal.WithLabelValues(name, "sent").Inc()
		d.logger.Info("notification sent", "channel", name)
		return true
	case errors.Is(err, ErrNotConfigured):
		notificationsTotal.WithLabelValues(name, "not_configured").Inc()
		d.logger.Warn("notification channel not configured", "channel", name)
	default:
		notificationsTotal.WithLabelValues(name, "failed").Inc()
		d.logger.Error("notification failed", "channel", name, "error", err, "permanent", IsPermanent(err))
	}
	return false
}
