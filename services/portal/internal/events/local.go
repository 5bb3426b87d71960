package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"talencor/pkg/bus"
)

// Subscriber registers durable handlers for a subject. *bus.Bus implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, subject, durable string, maxDeliver int, fn bus.Handler) (io.Closer, error)
}

var (
	_ Subscriber = (*bus.Bus)(nil)
	_ Subscriber = (*Local)(nil)
	_ Publisher  = (*Local)(nil)
)

var (
	ErrQueueFull = errors.New("events: local queue full")
	ErrClosed    = errors.New("events: local dispatcher closed")
)

type localMsg struct {
	subject string
	data    []byte
}

type localSub struct {
	id         uint64
	fn         bus.Handler
	maxDeliver int
}

// Local is an in-process stand-in for the bus. Messages are delivered in order
// by a single worker; a failing handler is retried up to its maxDeliver.
type Local struct {
	log zerolog.Logger

	mu     sync.RWMutex
	subs   map[string][]localSub
	nextID uint64
	closed bool

	queue chan localMsg
	done  chan struct{}
}

// NewLocal starts a dispatcher buffering up to buffer undelivered messages.
func NewLocal(log zerolog.Logger, buffer int) *Local {
	if buffer <= 0 {
		buffer = 256
	}
	l := &Local{
		log:   log,
		subs:  make(map[string][]localSub),
		queue: make(chan localMsg, buffer),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Local) Publish(_ context.Context, subject, _ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.queue <- localMsg{subject: subject, data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *Local) Subscribe(ctx context.Context, subject, _ string, maxDeliver int, fn bus.Handler) (io.Closer, error) {
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	if maxDeliver <= 0 {
		maxDeliver = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	l.nextID++
	sub := localSub{id: l.nextID, fn: fn, maxDeliver: maxDeliver}
	l.subs[subject] = append(l.subs[subject], sub)

	return closerFunc(func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		subs := l.subs[subject]
		for i, s := range subs {
			if s.id == sub.id {
				l.subs[subject] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		return nil
	}), nil
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (l *Local) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.done
}

func (l *Local) run() {
	defer close(l.done)
	for msg := range l.queue {
		l.mu.RLock()
		subs := append([]localSub(nil), l.subs[msg.subject]...)
		l.mu.RUnlock()

		for _, s := range subs {
			l.deliver(msg, s)
		}
	}
}

func (l *Local) deliver(msg localMsg, s localSub) {
	var err error
	for attempt := 1; attempt <= s.maxDeliver; attempt++ {
		if err = s.fn(context.Background(), msg.data); err == nil {
			return
		}
	}
	l.log.Warn().Err(err).Str("subject", msg.subject).Int("attempts", s.maxDeliver).Msg("local event handler failed")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
