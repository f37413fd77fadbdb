package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendoracle/observability"
)

const tracerName = "lendoracle/native/oracle"

// MaxRouteDepth bounds nested lookups made by adapters that price through the
// router (one-jump feeds, pool quotes, PT underlyings).
const MaxRouteDepth = 8

type routeDepthKey struct{}

// NamedOracle is a PriceOracle that reports an adapter name.
type NamedOracle interface {
	PriceOracle
	Name() string
}

// Router dispatches price queries to the adapter registered for each asset.
// It performs no fallback between adapters.
type Router struct {
	mu     sync.RWMutex
	routes map[common.Address]NamedOracle
}

func NewRouter() *Router {
	return &Router{routes: make(map[common.Address]NamedOracle)}
}

// Route registers (or replaces) the adapter serving asset.
func (r *Router) Route(asset common.Address, source NamedOracle) error {
	if r == nil {
		return fmt.Errorf("%w: router", ErrNilDependency)
	}
	if err := RequireAddress("asset", asset); err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("%w: source for %s", ErrNilDependency, asset.Hex())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[asset] = source
	return nil
}

// Source returns the adapter registered for asset.
func (r *Router) Source(asset common.Address) (NamedOracle, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.routes[asset]
	return source, ok
}

// Assets lists routed assets in address order.
func (r *Router) Assets() []common.Address {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	assets := make([]common.Address, 0, len(r.routes))
	for asset := range r.routes {
		assets = append(assets, asset)
	}
	r.mu.RUnlock()
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].Cmp(assets[j]) < 0
	})
	return assets
}

// GetPrice implements PriceOracle.
func (r *Router) GetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	source, ok := r.Source(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnconfiguredAsset, asset.Hex())
	}
	depth, _ := ctx.Value(routeDepthKey{}).(int)
	if depth >= MaxRouteDepth {
		return nil, fmt.Errorf("%w: %s after %d hops", ErrRouteDepth, asset.Hex(), depth)
	}
	ctx = context.WithValue(ctx, routeDepthKey{}, depth+1)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "oracle.GetPrice", trace.WithAttributes(
		attribute.String("oracle.asset", asset.Hex()),
		attribute.String("oracle.source", source.Name()),
	))
	defer span.End()
	price, err := source.GetPrice(ctx, asset)
	observability.Oracle().RecordQuery(source.Name(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return price, nil
}
