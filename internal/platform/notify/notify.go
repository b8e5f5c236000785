// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package notify delivers out-of-band messages (one-time codes, security notices)
over email and SMS.

Delivery is best effort. The dispatcher retries a bounded number of times with
exponential backoff, logs the final failure and never reports it back to the
authentication flow that requested the message.
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/taibuivan/agora/internal/platform/constants"
	"github.com/taibuivan/agora/internal/platform/metrics"
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is a single notification addressed to one recipient.
type Message struct {
	Channel Channel
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// ErrNoSender is returned when no sender is registered for a channel.
var ErrNoSender = errors.New("notify: no sender registered for channel")

// Dispatcher routes messages to the sender of their channel.
type Dispatcher struct {
	mu       sync.RWMutex
	senders  map[Channel]Sender
	retries  uint64
	backoff  time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	inflight sync.WaitGroup
}

// Option customizes a [Dispatcher].
type Option func(*Dispatcher)

// WithRetries sets the number of retries after the first attempt and the initial backoff.
func WithRetries(retries uint64, backoff time.Duration) Option {
	return func(dispatcher *Dispatcher) {
		dispatcher.retries = retries
		dispatcher.backoff = backoff
	}
}

// WithTimeout bounds each background delivery.
func WithTimeout(timeout time.Duration) Option {
	return func(dispatcher *Dispatcher) { dispatcher.timeout = timeout }
}

// NewDispatcher builds a dispatcher with no senders registered.
func NewDispatcher(logger *slog.Logger, recorder *metrics.Metrics, options ...Option) *Dispatcher {
	dispatcher := &Dispatcher{
		senders: make(map[Channel]Sender),
		retries: 2,
		backoff: 500 * time.Millisecond,
		timeout: constants.NotificationTimeout,
		logger:  logger,
		metrics: recorder,
	}
	for _, option := range options {
		option(dispatcher)
	}
	return dispatcher
}

// Register installs sender for channel, replacing any previous one.
func (dispatcher *Dispatcher) Register(channel Channel, sender Sender) {
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	dispatcher.senders[channel] = sender
}

// Supports reports whether a sender exists for channel.
func (dispatcher *Dispatcher) Supports(channel Channel) bool {
	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()
	_, ok := dispatcher.senders[channel]
	return ok
}

// Send delivers message synchronously, retrying transient failures.
func (dispatcher *Dispatcher) Send(ctx context.Context, message Message) error {
	dispatcher.mu.RLock()
	sender, ok := dispatcher.senders[message.Channel]
	dispatcher.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, message.Channel)
	}

	backoff := retry.WithMaxRetries(dispatcher.retries, retry.NewExponential(dispatcher.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := sender.Send(ctx, message); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})

	if err != nil {
		dispatcher.metrics.Notification(string(message.Channel), "failed")
		return fmt.Errorf("notify_send_failed: %w", err)
	}

	dispatcher.metrics.Notification(string(message.Channel), "sent")
	return nil
}

// Dispatch delivers message in the background.
//
// The caller's cancellation is detached so a finished HTTP request does not
// abort the delivery; the dispatcher's own timeout bounds it instead.
func (dispatcher *Dispatcher) Dispatch(ctx context.Context, message Message) {
	dispatcher.inflight.Add(1)
	go func() {
		defer dispatcher.inflight.Done()

		deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatcher.timeout)
		defer cancel()

		if err := dispatcher.Send(deliveryCtx, message); err != nil {
			dispatcher.logger.Warn("notification_delivery_failed",
				slog.String("channel", string(message.Channel)),
				slog.String("subject", message.Subject),
				slog.Any("error", err),
			)
		}
	}()
}

// Wait blocks until every background delivery has finished.
func (dispatcher *Dispatcher) Wait() {
	dispatcher.inflight.Wait()
}
