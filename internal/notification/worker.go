package notification

import (
	"context"
	"log/slog"
	"sync"
)

const defaultQueueSize = 256

// AsyncDispatcher buffers messages on a channel and delivers them from a
// background worker, keeping request paths fast. A full queue drops the
// message with a logged warning rather than blocking the caller; every
// dropped message is recoverable through "resend verification".
type AsyncDispatcher struct {
	logger *slog.Logger
	sender Sender
	inbox  chan Message
}

// NewAsyncDispatcher builds a dispatcher draining into the given sender.
func NewAsyncDispatcher(sender Sender, logger *slog.Logger) *AsyncDispatcher {
	return &AsyncDispatcher{
		logger: logger,
		sender: sender,
		inbox:  make(chan Message, defaultQueueSize),
	}
}

// Dispatch enqueues a message without blocking.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, msg Message) {
	select {
	case d.inbox <- msg:
	default:
		d.logger.WarnContext(ctx, "notification queue full, dropping message",
			"kind", msg.Kind,
			"application_id", msg.ApplicationID,
		)
	}
}

// Run drains the queue until the context is cancelled. Delivery failures are
// logged, not retried; the workflow offers explicit resend instead.
func (d *AsyncDispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-d.inbox:
			if err := d.sender.Send(ctx, msg); err != nil {
				d.logger.ErrorContext(ctx, "notification delivery failed",
					"kind", msg.Kind,
					"application_id", msg.ApplicationID,
					"error", err,
				)
			}
		}
	}
}

// LogSender writes deliveries to the log. Stands in for a real mail provider
// in development.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "notification sent",
		"kind", msg.Kind,
		"application_id", msg.ApplicationID,
		"recipient", msg.Recipient,
	)
	return nil
}

// RecordingDispatcher captures dispatched messages synchronously for tests.
type RecordingDispatcher struct {
	mu       sync.Mutex
	messages []Message
}

func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{}
}

func (d *RecordingDispatcher) Dispatch(_ context.Context, msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
}

// Messages returns a snapshot of everything dispatched so far.
func (d *RecordingDispatcher) Messages() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Message, len(d.messages))
	copy(out, d.messages)
	return out
}

// ByKind filters the captured messages.
func (d *RecordingDispatcher) ByKind(kind Kind) []Message {
	var out []Message
	for _, msg := range d.Messages() {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}
