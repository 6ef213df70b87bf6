package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/sirupsen/logrus"
)

// Destination is one place a message can be delivered to
type Destination struct {
	Platform  string
	ChatID    string
	ThreadRef string // posts into that thread of ChatID when set
	Label     string
}

// Dispatcher delivers text to a destination
type Dispatcher interface {
	Deliver(ctx context.Context, dest Destination, text string) error
}

// MultiDispatcher routes each delivery to the dispatcher of its platform
type MultiDispatcher struct {
	byPlatform map[string]Dispatcher
}

// NewMultiDispatcher creates an empty multi dispatcher
func NewMultiDispatcher() *MultiDispatcher {
	return &MultiDispatcher{byPlatform: make(map[string]Dispatcher)}
}

// Register sets the dispatcher used for platform
func (m *MultiDispatcher) Register(platform string, d Dispatcher) {
	m.byPlatform[platform] = d
}

// Deliver sends text through the dispatcher registered for dest.Platform
func (m *MultiDispatcher) Deliver(ctx context.Context, dest Destination, text string) error {
	d, ok := m.byPlatform[dest.Platform]
	if !ok {
		deliveries.WithLabelValues(dest.Platform, "unroutable").Inc()
		return fmt.Errorf("%w: %q", ErrNoDispatcher, dest.Platform)
	}

	if err := d.Deliver(ctx, dest, text); err != nil {
		deliveries.WithLabelValues(dest.Platform, "error").Inc()
		return err
	}
	deliveries.WithLabelValues(dest.Platform, "ok").Inc()
	return nil
}

// RequesterDestinations lists where to reach the requester of a case, in
// order: the private group, a direct chat, then the channel the case came
// from. The origin is answered in the thread the case started in.
func RequesterDestinations(c *storage.Case) []Destination {
	var dests []Destination
	seen := make(map[string]bool)

	add := func(chatID, threadRef, label string) {
		if chatID == "" || seen[chatID] {
			return
		}
		seen[chatID] = true
		dests = append(dests, Destination{Platform: c.Platform, ChatID: chatID, ThreadRef: threadRef, Label: label})
	}

	add(c.PrivateChannelRef, "", "private")
	add(c.RequesterID, "", "direct")
	add(c.ChannelRef, c.ThreadRef, "origin")

	return dests
}

// ResponderDestination is the direct chat of a responder
func ResponderDestination(r *storage.Responder) Destination {
	return Destination{Platform: r.Platform, ChatID: r.ChatID, Label: "responder"}
}

// DeliverFirst tries each destination in order, each bounded by timeout,
// and stops at the first success.
func DeliverFirst(ctx context.Context, d Dispatcher, dests []Destination, text string, timeout time.Duration) (Destination, error) {
	var errs []error
	for _, dest := range dests {
		err := deliverWithTimeout(ctx, d, dest, text, timeout)
		if err == nil {
			return dest, nil
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"platform": dest.Platform,
			"chat_id":  dest.ChatID,
			"label":    dest.Label,
		}).Warn("Delivery failed, trying next destination")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Destination{}, ErrDeliveryFailed
	}
	return Destination{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, errors.Join(errs...))
}

func deliverWithTimeout(ctx context.Context, d Dispatcher, dest Destination, text string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.Deliver(ctx, dest, text)
}
