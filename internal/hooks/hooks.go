// Package hooks receives terminal signals that lost the race to an
// already-terminated interaction.
package hooks

import (
	"sync/atomic"

	"github.com/danmuck/rsockcore/internal/logging"
	"github.com/danmuck/rsockcore/internal/observability"
	"github.com/danmuck/rsockcore/internal/payload"
)

type (
	ErrorHandler    func(err error)
	NextHandler     func(p *payload.Payload)
	CompleteHandler func()
)

var (
	errorDropped    atomic.Pointer[ErrorHandler]
	nextDropped     atomic.Pointer[NextHandler]
	completeDropped atomic.Pointer[CompleteHandler]
)

func defaultErrorDropped(err error) {
	observability.RecordDropped("error")
	logger := logging.For("hooks")
	logger.Warn().Err(err).Msg("error dropped after termination")
}

func defaultNextDropped(p *payload.Payload) {
	observability.RecordDropped("next")
	logger := logging.For("hooks")
	logger.Debug().Int("data_len", len(p.Data())).Msg("payload dropped after termination")
}

func defaultCompleteDropped() {
	observability.RecordDropped("complete")
	logger := logging.For("hooks")
	logger.Debug().Msg("completion dropped after termination")
}

// OnErrorDropped reports err to the installed handler.
func OnErrorDropped(err error) {
	if h := errorDropped.Load(); h != nil {
		(*h)(err)
		return
	}
	defaultErrorDropped(err)
}

// OnNextDropped reports p to the installed handler and then releases it. A
// nil p is reported as a dropped completion.
func OnNextDropped(p *payload.Payload) {
	if p == nil {
		OnCompleteDropped()
		return
	}
	defer p.Release()
	if h := nextDropped.Load(); h != nil {
		(*h)(p)
		return
	}
	defaultNextDropped(p)
}

// OnCompleteDropped reports a completion that arrived after termination.
func OnCompleteDropped() {
	if h := completeDropped.Load(); h != nil {
		(*h)()
		return
	}
	defaultCompleteDropped()
}

// SetErrorDropped installs h process-wide; nil restores the default.
func SetErrorDropped(h ErrorHandler) {
	if h == nil {
		errorDropped.Store(nil)
		return
	}
	errorDropped.Store(&h)
}

// SetNextDropped installs h process-wide; nil restores the default. The
// handler must not release the payload.
func SetNextDropped(h NextHandler) {
	if h == nil {
		nextDropped.Store(nil)
		return
	}
	nextDropped.Store(&h)
}

func SetCompleteDropped(h CompleteHandler) {
	if h == nil {
		completeDropped.Store(nil)
		return
	}
	completeDropped.Store(&h)
}

// Reset restores every default handler.
func Reset() {
	errorDropped.Store(nil)
	nextDropped.Store(nil)
	completeDropped.Store(nil)
}
