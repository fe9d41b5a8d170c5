package chainstore

import (
	"go.uber.org/zap"

	"github.com/iAn-P1nt0/chainstore/store"
)

type options struct {
	store  store.Store
	logger *zap.Logger
}

// Option configures a middleware.
type Option func(*options)

// WithStore sets the backing store. If not provided, a fresh in-memory
// store is used. Middlewares sharing one store share its value and
// counter keyspaces.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLogger sets the logger for degraded-path events (backend
// failures, undecodable cache entries). The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.store == nil {
		o.store = store.NewMemoryStore()
	}
	return o
}
