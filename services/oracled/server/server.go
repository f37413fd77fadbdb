package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	nativecommon "lendoracle/native/common"
	"lendoracle/native/oracle"
	"lendoracle/native/oracle/chainlink"
	"lendoracle/native/oracle/pendle"
	"lendoracle/native/oracle/twap"
	"lendoracle/services/oracled/history"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	RateLimit     RateLimit
	// MaxConnections caps concurrently accepted connections. Zero means 256.
	MaxConnections int
	Admin          AdminAuth
}

// Prices resolves asset prices through the configured adapters.
type Prices interface {
	GetPrice(ctx context.Context, asset common.Address) (*big.Int, error)
	Source(asset common.Address) (oracle.NamedOracle, bool)
}

// Twap exposes the accumulator TWAP oracle.
type Twap interface {
	UpdateTwap(ctx context.Context, asset common.Address) (*big.Int, error)
	TokenConfig(asset common.Address) (twap.TokenConfig, bool, error)
	Observations(asset common.Address) ([]twap.Observation, uint64, error)
}

// History lists recorded oracle events.
type History interface {
	List(ctx context.Context, filter history.Filter) ([]history.EventRecord, error)
}

// Server hosts the oracle query API.
type Server struct {
	cfg     Config
	prices  Prices
	twap    Twap
	history History
	hub     *Hub
	admin   *adminAuthenticator
	logger  *slog.Logger
	limiter *RateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithTwap enables the /v1/twap routes.
func WithTwap(tw Twap) Option {
	return func(s *Server) { s.twap = tw }
}

// WithHistory enables /v1/events.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithHub enables the /v1/stream websocket.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new HTTP server. Routes whose backing component was not
// supplied answer 404.
func New(cfg Config, prices Prices, opts ...Option) (*Server, error) {
	if prices == nil {
		return nil, fmt.Errorf("price source required")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	s := &Server{
		cfg:     cfg,
		prices:  prices,
		logger:  slog.Default(),
		limiter: NewRateLimiter(cfg.RateLimit),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With("component", "http")
	s.admin = newAdminAuthenticator(cfg.Admin, s.logger)
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(metricsMiddleware)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.Middleware)
		v1.Get("/prices/{asset}", s.handlePrice)
		v1.Post("/twap/{asset}/update", s.handleTwapUpdate)
		v1.Get("/twap/{asset}/window", s.handleTwapWindow)
		v1.Get("/events", s.handleEvents)
		v1.Get("/stream", s.handleStream)
		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(s.admin.Middleware)
			admin.Post("/prices/{asset}", s.handleSetDirectPrice)
		})
	})
	return otelhttp.NewHandler(r, "oracled")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddress, err)
	}
	ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String(), "max_connections", s.cfg.MaxConnections)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	price, err := s.prices.GetPrice(r.Context(), asset)
	if err != nil {
		s.writeOracleError(w, r, asset, err)
		return
	}
	source := ""
	if src, ok := s.prices.Source(asset); ok {
		source = src.Name()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":  asset.Hex(),
		"oracle": source,
		"price":  price.String(),
	})
}

func (s *Server) handleTwapUpdate(w http.ResponseWriter, r *http.Request) {
	if s.twap == nil {
		http.NotFound(w, r)
		return
	}
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	price, err := s.twap.UpdateTwap(r.Context(), asset)
	if err != nil {
		s.writeOracleError(w, r, asset, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset": asset.Hex(),
		"price": price.String(),
	})
}

type observationView struct {
	Index      uint64 `json:"index"`
	Timestamp  uint64 `json:"timestamp"`
	Cumulative string `json:"cumulative"`
}

func (s *Server) handleTwapWindow(w http.ResponseWriter, r *http.Request) {
	if s.twap == nil {
		http.NotFound(w, r)
		return
	}
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	cfg, found, err := s.twap.TokenConfig(asset)
	if err == nil && !found {
		err = fmt.Errorf("%w: %s", oracle.ErrUnconfiguredAsset, asset.Hex())
	}
	if err != nil {
		s.writeOracleError(w, r, asset, err)
		return
	}
	entries, start, err := s.twap.Observations(asset)
	if err != nil {
		s.writeOracleError(w, r, asset, err)
		return
	}
	observations := make([]observationView, 0, len(entries))
	for i, obs := range entries {
		cumulative := "0"
		if obs.Cumulative != nil {
			cumulative = obs.Cumulative.String()
		}
		observations = append(observations, observationView{
			Index:      start + uint64(i),
			Timestamp:  obs.Timestamp,
			Cumulative: cumulative,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":        asset.Hex(),
		"pool":         cfg.Pool.Hex(),
		"anchorPeriod": cfg.AnchorPeriod,
		"windowStart":  start,
		"observations": observations,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}
	query := r.URL.Query()
	filter := history.Filter{Type: query.Get("type")}
	if raw := strings.TrimSpace(query.Get("asset")); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid asset address")
			return
		}
		filter.Asset = common.HexToAddress(raw).Hex()
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	records, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

func assetParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "asset"))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid asset address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) writeOracleError(w http.ResponseWriter, r *http.Request, asset common.Address, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("oracle request failed", "path", r.URL.Path, "asset", asset.Hex(), "error", err)
	}
	writeError(w, status, err.Error())
}

// statusFor maps query time failures. Invalid prices there come from the
// upstream source, not the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, oracle.ErrUnconfiguredAsset):
		return http.StatusNotFound
	case errors.Is(err, nativecommon.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrNotInitialized),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrZeroPrice),
		errors.Is(err, twap.ErrPriceNotAvailable),
		errors.Is(err, twap.ErrSnapshotAhead),
		errors.Is(err, twap.ErrWethPriceUnavailable),
		errors.Is(err, chainlink.ErrStalePrice),
		errors.Is(err, chainlink.ErrFuturePrice),
		errors.Is(err, pendle.ErrOracleNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
