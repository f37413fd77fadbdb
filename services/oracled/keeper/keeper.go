package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Updater refreshes the anchor price of a TWAP asset.
type Updater interface {
	UpdateTwap(ctx context.Context, asset common.Address) (*big.Int, error)
	Assets() ([]common.Address, error)
}

// Keeper periodically pokes the TWAP oracle so observation windows keep
// advancing between user queries.
type Keeper struct {
	logger   *slog.Logger
	updater  Updater
	assets   []common.Address
	interval time.Duration
	once     sync.Once
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithAssets restricts the keeper to the given assets. By default every
// configured asset is refreshed.
func WithAssets(assets []common.Address) Option {
	return func(k *Keeper) {
		k.assets = append([]common.Address(nil), assets...)
	}
}

// New constructs a keeper instance.
func New(updater Updater, interval time.Duration, opts ...Option) (*Keeper, error) {
	if updater == nil {
		return nil, fmt.Errorf("updater required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	k := &Keeper{
		logger:   slog.Default(),
		updater:  updater,
		interval: interval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	k.logger = k.logger.With("component", "keeper")
	return k, nil
}

// Run blocks, refreshing prices every interval until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Info("keeper started", "interval", k.interval.String())
	})
	for {
		if err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Warn("tick finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick refreshes every asset once. A failing asset does not stop the others;
// their errors are joined.
func (k *Keeper) Tick(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	assets := k.assets
	if len(assets) == 0 {
		all, err := k.updater.Assets()
		if err != nil {
			return fmt.Errorf("list assets: %w", err)
		}
		assets = all
	}
	tickID := uuid.NewString()
	var errs []error
	updated := 0
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		price, err := k.updater.UpdateTwap(ctx, asset)
		if err != nil {
			k.logger.Warn("twap update failed", "tick", tickID, "asset", asset.Hex(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", asset.Hex(), err))
			continue
		}
		updated++
		k.logger.Debug("twap updated", "tick", tickID, "asset", asset.Hex(), "price", price.String())
	}
	k.logger.Info("tick complete", "tick", tickID, "updated", updated, "failed", len(errs))
	return errors.Join(errs...)
}
