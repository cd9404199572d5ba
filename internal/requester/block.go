package requester

import (
	"context"
	"sync"

	"github.com/danmuck/rsockcore/internal/payload"
)

// Block subscribes to pub, requests one item and waits for the outcome. A
// completion without a value returns (nil, nil). When ctx ends first the
// interaction is cancelled and ctx.Err() returned; a value that arrives later
// is released.
func Block(ctx context.Context, pub Publisher) (*payload.Payload, error) {
	b := &blockingSubscriber{done: make(chan struct{})}
	pub.Subscribe(b)

	select {
	case <-b.done:
		return b.result()
	case <-ctx.Done():
	}
	select {
	case <-b.done:
		return b.result()
	default:
	}

	b.mu.Lock()
	b.abandoned = true
	late := b.value
	b.value = nil
	sub := b.sub
	b.mu.Unlock()

	payload.SafeRelease(late)
	if sub != nil {
		sub.Cancel()
	}
	return nil, ctx.Err()
}

type blockingSubscriber struct {
	mu        sync.Mutex
	sub       Subscription
	value     *payload.Payload
	err       error
	abandoned bool

	once sync.Once
	done chan struct{}
}

func (b *blockingSubscriber) OnSubscribe(s Subscription) {
	b.mu.Lock()
	b.sub = s
	abandoned := b.abandoned
	b.mu.Unlock()
	if abandoned {
		s.Cancel()
		return
	}
	s.Request(1)
}

func (b *blockingSubscriber) OnNext(p *payload.Payload) {
	b.mu.Lock()
	if b.abandoned || b.value != nil {
		b.mu.Unlock()
		p.Release()
		return
	}
	b.value = p
	b.mu.Unlock()
}

func (b *blockingSubscriber) OnComplete() {
	b.once.Do(func() { close(b.done) })
}

func (b *blockingSubscriber) OnError(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	b.once.Do(func() { close(b.done) })
}

func (b *blockingSubscriber) result() (*payload.Payload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.err
}
