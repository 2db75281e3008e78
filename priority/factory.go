package priority

import (
	"fmt"
	"math/rand/v2"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrUnknownPolicy is returned for unrecognized strategy identifiers.
	ErrUnknownPolicy = constError("priority: unknown eviction policy")
	// ErrInvalidOption is returned for out-of-range strategy parameters.
	ErrInvalidOption = constError("priority: invalid option")
)

// Defaults for the tunable strategies.
const (
	DefaultLRFULambda = 0.5
	DefaultK          = 2
)

type config struct {
	clock  Clock
	rng    *rand.Rand
	lambda float64
	k      int
}

// Option tunes a strategy built by New.
type Option func(*config)

// WithClock overrides the timestamp source used by LIRS, LRFU, LRU-K and
// Hyperbolic. It must be the clock the access path stamps metadata with.
func WithClock(c Clock) Option { return func(o *config) { o.clock = c } }

// WithRand seeds the random strategy (None) deterministically.
func WithRand(r *rand.Rand) Option { return func(o *config) { o.rng = r } }

// WithLRFULambda sets the LRFU decay rate.
func WithLRFULambda(l float64) Option { return func(o *config) { o.lambda = l } }

// WithK sets the reference count of LRU-K.
func WithK(k int) Option { return func(o *config) { o.k = k } }

// New constructs the strategy identified by kind.
// An unrecognized kind is a configuration error (ErrUnknownPolicy).
func New(kind Kind, opts ...Option) (Priority, error) {
	cfg := config{clock: SystemClock{}, lambda: DefaultLRFULambda, k: DefaultK}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = SystemClock{}
	}
	if cfg.k < 1 {
		return nil, fmt.Errorf("%w: K must be >= 1, got %d", ErrInvalidOption, cfg.k)
	}
	if cfg.lambda < 0 {
		return nil, fmt.Errorf("%w: lambda must be >= 0, got %v", ErrInvalidOption, cfg.lambda)
	}

	switch kind {
	case None:
		return newDumb(cfg.rng), nil
	case LRU:
		return lruPriority{}, nil
	case LFU:
		return lfuPriority{}, nil
	case GDSF:
		return &gdsfPriority{}, nil
	case GDS:
		return &gdsPriority{}, nil
	case LIRS:
		return lirsPriority{clock: cfg.clock}, nil
	case LRFU:
		return lrfuPriority{clock: cfg.clock, lambda: cfg.lambda}, nil
	case FIFO:
		return fifoPriority{}, nil
	case LFUDA:
		return &lfudaPriority{}, nil
	case LRUK:
		return lrukPriority{clock: cfg.clock, k: uint64(cfg.k)}, nil
	case SIZE:
		return sizePriority{}, nil
	case MRU:
		return mruPriority{}, nil
	case Hyperbolic:
		return hyperbolicPriority{clock: cfg.clock}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownPolicy, kind)
	}
}

// MustNew is New for static configuration; it panics on error.
func MustNew(kind Kind, opts ...Option) Priority {
	p, err := New(kind, opts...)
	if err != nil {
		panic(err)
	}
	return p
}
