package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"lendoracle/core/events"
	"lendoracle/native/oracle/twap"
	"lendoracle/observability/logging"
	telemetry "lendoracle/observability/otel"
	"lendoracle/services/oracled/config"
	"lendoracle/services/oracled/evm"
	"lendoracle/services/oracled/history"
	"lendoracle/services/oracled/keeper"
	"lendoracle/services/oracled/server"
	"lendoracle/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/oracled/config.yaml", "path to oracled configuration file (.yaml or .toml)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDORACLE_ENV"))
	logger := logging.Setup("oracled", env, logging.ParseLevel(os.Getenv("LENDORACLE_LOG_LEVEL")))
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	sampleRatio := 0.0
	if value := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			sampleRatio = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "oracled",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
		SampleRatio: sampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("oracled: load config: %v", err)
	}
	if cfg.LogFile != "" {
		logFile := logging.RotatingFile(cfg.LogFile)
		defer logFile.Close()
		logger = logging.Setup("oracled", env, logging.ParseLevel(os.Getenv("LENDORACLE_LOG_LEVEL")), logging.WithOutput(logFile))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := evm.Dial(rootCtx, cfg.RPCURL)
	if err != nil {
		log.Fatalf("oracled: dial %s: %v", logging.RedactURL(cfg.RPCURL), err)
	}
	defer client.Close()
	logger.Info("connected to rpc", "url", logging.RedactURL(cfg.RPCURL))

	readers, err := newChainReaders(client, cfg)
	if err != nil {
		log.Fatalf("oracled: %v", err)
	}

	stateDB, err := storage.Open(cfg.StateBackend, cfg.StatePath)
	if err != nil {
		log.Fatalf("oracled: open %s state: %v", cfg.StateBackend, err)
	}
	defer stateDB.Close()

	historyDB, err := history.Open(cfg.HistoryDSN)
	if err != nil {
		log.Fatalf("oracled: history %s: %v", logging.RedactURL(cfg.HistoryDSN), err)
	}
	recorder, err := history.NewRecorder(historyDB, history.WithLogger(logger))
	if err != nil {
		log.Fatalf("oracled: %v", err)
	}

	hub := server.NewHub()
	emitter := events.Fanout(recorder, hub)
	built, err := buildOracles(rootCtx, cfg, readers, twap.NewKVStore(stateDB), emitter, logger)
	if err != nil {
		log.Fatalf("oracled: configure oracles: %v", err)
	}
	logger.Info("oracles configured", "assets", len(built.Router.Assets()))

	serverOpts := []server.Option{
		server.WithHistory(recorder),
		server.WithHub(hub),
		server.WithLogger(logger),
	}
	if built.Twap != nil {
		serverOpts = append(serverOpts, server.WithTwap(built.Twap))
		keeperOpts := []keeper.Option{keeper.WithLogger(logger)}
		if len(cfg.Keeper.Assets) > 0 {
			assets := make([]common.Address, 0, len(cfg.Keeper.Assets))
			for _, raw := range cfg.Keeper.Assets {
				assets = append(assets, config.Address(raw))
			}
			keeperOpts = append(keeperOpts, keeper.WithAssets(assets))
		}
		k, err := keeper.New(built.Twap, cfg.Keeper.Interval.Duration, keeperOpts...)
		if err != nil {
			log.Fatalf("oracled: keeper: %v", err)
		}
		go func() {
			if err := k.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("keeper exited", "error", err)
				stop()
			}
		}()
	}

	srv, err := server.New(server.Config{
		ListenAddress:  cfg.ListenAddress,
		MaxConnections: cfg.MaxConnections,
		RateLimit: server.RateLimit{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		},
		Admin: server.AdminAuth{
			Secret:    cfg.Admin.Secret(),
			Issuer:    cfg.Admin.Issuer,
			Audience:  cfg.Admin.Audience,
			ClockSkew: cfg.Admin.ClockSkew.Duration,
		},
	}, built.Router, serverOpts...)
	if err != nil {
		log.Fatalf("oracled: server: %v", err)
	}

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

func newChainReaders(client evm.Client, cfg config.Config) (chainReaders, error) {
	metadata, err := evm.NewTokenMetadata(client)
	if err != nil {
		return chainReaders{}, err
	}
	feeds, err := evm.NewFeeds(client)
	if err != nil {
		return chainReaders{}, err
	}
	pairs, err := evm.NewUniswapV2Pairs(client)
	if err != nil {
		return chainReaders{}, err
	}
	readers := chainReaders{
		Metadata: metadata,
		Clock:    evm.NewHeaderClock(client),
		Feeds:    feeds,
		Pairs:    pairs,
	}
	if len(cfg.UniswapV3.Tokens) > 0 {
		v3, err := evm.NewUniswapV3(client, config.Address(cfg.UniswapV3.Factory))
		if err != nil {
			return chainReaders{}, err
		}
		readers.Factory = v3
		readers.Pools = v3
	}
	if len(cfg.Pendle.Tokens) > 0 {
		pt, err := evm.NewPtOracle(client, config.Address(cfg.Pendle.PtOracle))
		if err != nil {
			return chainReaders{}, err
		}
		readers.Pt = pt
	}
	return readers, nil
}
