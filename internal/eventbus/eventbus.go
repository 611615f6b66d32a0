// Package eventbus provides a small per-job publish/subscribe mechanism.
//
// Handlers fire synchronously, in subscription order, on the goroutine
// that calls Emit. The subscriber set is snapshotted before dispatch so a
// handler may safely unsubscribe itself or another handler without
// racing the in-flight Emit.
package eventbus

import "github.com/google/uuid"

// Token identifies a single subscription so it can be unsubscribed later.
type Token string

// Handler receives the data passed to Emit for the event it is subscribed to.
type Handler func(data any)

type subscription struct {
	token   Token
	handler Handler
	once    bool
}

// Bus is a named event pub/sub scoped to a single job.
//
// Bus is not safe for concurrent use by multiple goroutines; callers that
// need that (the job actor does not, since all mutation happens on one
// goroutine) must serialize access themselves.
type Bus struct {
	subscribers map[string][]subscription
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]subscription)}
}

// On subscribes handler to every future Emit of name, until unsubscribed.
func (b *Bus) On(name string, handler Handler) Token {
	return b.add(name, handler, false)
}

// Once subscribes handler to the next Emit of name only; it is
// automatically unsubscribed right before it runs.
func (b *Bus) Once(name string, handler Handler) Token {
	return b.add(name, handler, true)
}

func (b *Bus) add(name string, handler Handler, once bool) Token {
	tok := Token(uuid.NewString())
	b.subscribers[name] = append(b.subscribers[name], subscription{
		token:   tok,
		handler: handler,
		once:    once,
	})
	return tok
}

// Unsubscribe removes the subscription identified by tok from name's
// subscriber list. It is a no-op if the token is not present.
func (b *Bus) Unsubscribe(name string, tok Token) {
	subs := b.subscribers[name]
	for i, s := range subs {
		if s.token == tok {
			b.subscribers[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches data to every handler currently subscribed to name, in
// subscription order. The subscriber list is snapshotted first so
// handlers may mutate subscriptions (including their own) during dispatch.
func (b *Bus) Emit(name string, data any) {
	subs := b.subscribers[name]
	if len(subs) == 0 {
		return
	}
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)

	for _, s := range snapshot {
		if s.once {
			b.Unsubscribe(name, s.token)
		}
		s.handler(data)
	}
}
