// Package notify delivers account messages such as password reset links and
// verification codes.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned by a Notifier that cannot deliver.
var ErrNotConfigured = errors.New("notifier: not configured")

// Message is one outbound account notification.
type Message struct {
	Kind    string // e.g. "password.reset", "email.verification"
	To      string
	Subject string
	Body    string
}

// Notifier delivers messages.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of delivering them. Used in
// development and when no mail transport is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier writing to logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

// Send logs the envelope at Info. Bodies carry reset links and codes, so they are only
// written at Debug.
func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("notification",
		zap.String("kind", msg.Kind),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	n.logger.Debug("notification body",
		zap.String("kind", msg.Kind),
		zap.String("to", msg.To),
		zap.String("body", msg.Body),
	)
	return nil
}

// Dispatcher sends messages in the background so callers never wait on delivery.
type Dispatcher struct {
	notifier Notifier
	logger   *zap.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher wraps n. Each delivery gets timeout to complete.
func NewDispatcher(n Notifier, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if n == nil {
		panic("notify: notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifier: n, logger: logger, timeout: timeout}
}

// Dispatch queues msg for delivery and returns immediately. Failures are logged.
func (d *Dispatcher) Dispatch(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Send(ctx, msg); err != nil {
			d.logger.Warn("notification send failed",
				zap.String("provider", d.notifier.Name()),
				zap.String("kind", msg.Kind),
				zap.Error(err),
			)
			return
		}
		d.logger.Debug("notification sent", zap.String("provider", d.notifier.Name()), zap.String("kind", msg.Kind))
	}()
}

// Wait blocks until every dispatched message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
