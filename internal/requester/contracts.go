// Package requester implements the requester side of a request/response
// interaction: a lazily started, single-subscriber exchange multiplexed on
// one connection by stream id.
package requester

import (
	"errors"

	"github.com/danmuck/rsockcore/internal/payload"
)

var (
	ErrSingleSubscriber = errors.New("requester: only one subscriber allowed")
	ErrInvalidDemand    = errors.New("requester: demand must be positive")
	ErrCancelled        = errors.New("requester: interaction cancelled")
	ErrStreamInUse      = errors.New("requester: stream id already registered")
)

// Subscription is handed to a Subscriber in OnSubscribe.
type Subscription interface {
	// Request signals demand. Only the first positive call has an effect.
	Request(n int64)
	Cancel()
}

// Subscriber observes one interaction. OnSubscribe is called exactly once,
// followed by either OnNext and OnComplete, OnComplete alone, or OnError.
// The subscriber owns every payload passed to OnNext.
type Subscriber interface {
	OnSubscribe(s Subscription)
	OnNext(p *payload.Payload)
	OnComplete()
	OnError(err error)
}

// Publisher is anything a Subscriber can attach to.
type Publisher interface {
	Subscribe(sub Subscriber)
}

// Availability reports whether the connection can carry a new interaction.
type Availability interface {
	CheckAvailable() error
}

// AvailabilityFunc adapts a function to Availability.
type AvailabilityFunc func() error

func (f AvailabilityFunc) CheckAvailable() error { return f() }

type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}

// State is the lifecycle position of an interaction.
type State int32

const (
	StateUnsubscribed State = iota
	StateSubscribed
	StateRequested
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "UNSUBSCRIBED"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateRequested:
		return "REQUESTED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
