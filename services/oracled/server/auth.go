package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"lendoracle/native/oracle"
)

// AdminAuth configures HS256 bearer tokens for the admin routes. The token
// subject is the caller address checked by the oracle's access control.
// Admin routes are disabled when Secret is empty.
type AdminAuth struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

type callerContextKey struct{}

type adminAuthenticator struct {
	cfg    AdminAuth
	secret []byte
	logger *slog.Logger
}

func newAdminAuthenticator(cfg AdminAuth, logger *slog.Logger) *adminAuthenticator {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &adminAuthenticator{cfg: cfg, secret: []byte(secret), logger: logger}
}

func (a *adminAuthenticator) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "admin api disabled")
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		caller, err := a.caller(token)
		if err != nil {
			a.logger.Warn("admin token rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *adminAuthenticator) caller(tokenString string) (common.Address, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(subject) {
		return common.Address{}, errors.New("subject is not an address")
	}
	return common.HexToAddress(subject), nil
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func callerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(common.Address)
	return caller, ok
}

type directPricer interface {
	SetDirectPrice(ctx context.Context, caller, asset common.Address, price *big.Int) error
}

func (s *Server) handleSetDirectPrice(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller unknown")
		return
	}
	var req struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(req.Price), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "price must be a base-10 integer")
		return
	}
	source, found := s.prices.Source(asset)
	if !found {
		writeError(w, http.StatusNotFound, oracle.ErrUnconfiguredAsset.Error())
		return
	}
	pricer, ok := source.(directPricer)
	if !ok {
		writeError(w, http.StatusConflict, "asset oracle "+source.Name()+" does not accept direct prices")
		return
	}
	if err := pricer.SetDirectPrice(r.Context(), caller, asset, price); err != nil {
		if errors.Is(err, oracle.ErrInvalidPrice) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeOracleError(w, r, asset, err)
		return
	}
	s.logger.Info("direct price set", "asset", asset.Hex(), "caller", caller.Hex(), "price", price.String())
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":  asset.Hex(),
		"oracle": source.Name(),
		"price":  price.String(),
	})
}
