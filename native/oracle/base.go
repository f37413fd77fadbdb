package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendoracle/core/events"
	nativecommon "lendoracle/native/common"
)

// Option configures the shared adapter base.
type Option func(*Base)

// WithLogger installs a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithEmitter routes adapter events to the supplied emitter.
func WithEmitter(e events.Emitter) Option {
	return func(b *Base) {
		if e != nil {
			b.emitter = e
		}
	}
}

// Base carries the collaborators every adapter shares: the access controller
// installed by Initialize, token metadata, the block clock and event/log sinks.
type Base struct {
	name     string
	metadata TokenMetadata
	clock    Clock
	logger   *slog.Logger
	emitter  events.Emitter

	acmMu sync.RWMutex
	acm   nativecommon.AccessController
}

// NewBase constructs the shared adapter state. clock may be nil for adapters
// that never consult block time.
func NewBase(name string, metadata TokenMetadata, clock Clock, opts ...Option) (*Base, error) {
	if metadata == nil {
		return nil, fmt.Errorf("%w: token metadata", ErrNilDependency)
	}
	b := &Base{
		name:     name,
		metadata: metadata,
		clock:    clock,
		logger:   slog.Default(),
		emitter:  events.NoopEmitter{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = b.logger.With(slog.String("oracle", name))
	return b, nil
}

// Name returns the adapter identifier used in logs, metrics and events.
func (b *Base) Name() string { return b.name }

// Logger exposes the adapter scoped logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Initialize installs the access controller. It may only be called once.
func (b *Base) Initialize(acm nativecommon.AccessController) error {
	if acm == nil {
		return fmt.Errorf("%w: access controller", ErrNilDependency)
	}
	b.acmMu.Lock()
	defer b.acmMu.Unlock()
	if b.acm != nil {
		return ErrAlreadyInitialized
	}
	b.acm = acm
	return nil
}

// Authorize checks caller against the installed access controller.
func (b *Base) Authorize(caller common.Address, signature string) error {
	b.acmMu.RLock()
	acm := b.acm
	b.acmMu.RUnlock()
	if acm == nil {
		return ErrNotInitialized
	}
	if err := nativecommon.Guard(acm, caller, signature); err != nil {
		return fmt.Errorf("%s %s: %w", b.name, signature, err)
	}
	return nil
}

// Decimals resolves the decimals of token, short-circuiting the native asset.
func (b *Base) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	if token == NativeAsset {
		return PriceDecimals, nil
	}
	decimals, err := b.metadata.Decimals(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}
	if decimals > MaxAssetDecimals {
		return 0, fmt.Errorf("%w: %s has %d", ErrDecimalsOutOfRange, token.Hex(), decimals)
	}
	return decimals, nil
}

// Now returns the current block time.
func (b *Base) Now(ctx context.Context) (uint64, error) {
	if b.clock == nil {
		return 0, fmt.Errorf("%w: clock", ErrNilDependency)
	}
	return b.clock.Now(ctx)
}

// Pin binds ctx to a single block when the clock supports it, so the block
// time and the contract reads that follow agree. Otherwise ctx is returned
// unchanged.
func (b *Base) Pin(ctx context.Context) (context.Context, error) {
	pinner, ok := b.clock.(BlockPinner)
	if !ok {
		return ctx, nil
	}
	pinned, err := pinner.Pin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pin block: %w", err)
	}
	return pinned, nil
}

// Emit forwards evt to the configured emitter.
func (b *Base) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	b.emitter.Emit(evt)
}
