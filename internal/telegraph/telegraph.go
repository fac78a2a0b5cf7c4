// Package telegraph delivers user-visible notices: connection trouble,
// consultation lifecycle changes and the wait-time countdown running out.
// Notices go to the terminal, a shell command, Slack or Discord.
package telegraph

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Severity classifies a notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is one user-visible message.
type Notice struct {
	Title    string
	Body     string
	Severity Severity
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notice) error { return f(ctx, n) }

// Discard drops every notice.
var Discard Notifier = NotifierFunc(func(context.Context, Notice) error { return nil })

// Multi fans a notice out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers n to each notifier in order.
func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send delivers n and logs a failure instead of returning it.
func Send(ctx context.Context, nt Notifier, n Notice) {
	if nt == nil {
		return
	}
	if err := nt.Notify(ctx, n); err != nil {
		log.Printf("telegraph: deliver %q: %v", n.Title, err)
	}
}

// Async delivers notices on a background goroutine so slow webhooks never
// hold up the caller. Each delivery is bounded by timeout.
type Async struct {
	next    Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps next.
func NewAsync(next Notifier, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{next: next, timeout: timeout}
}

// Notify queues n and returns immediately.
func (a *Async) Notify(_ context.Context, n Notice) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		Send(ctx, a.next, n)
	}()
	return nil
}

// Wait blocks until every queued notice has been delivered or timed out.
func (a *Async) Wait() { a.wg.Wait() }
