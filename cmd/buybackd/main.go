// Command buybackd serves the buyback hook's configuration and quoting API,
// either against a simulated ledger or read-only against a live chain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/Bananapus/juice-buyback-hook/internal/amm"
	"github.com/Bananapus/juice-buyback-hook/internal/api"
	"github.com/Bananapus/juice-buyback-hook/internal/blockchain"
	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/metadata"
	"github.com/Bananapus/juice-buyback-hook/internal/money"
	"github.com/Bananapus/juice-buyback-hook/internal/notification"
	"github.com/Bananapus/juice-buyback-hook/internal/oracle"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/aws"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/cache"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/config"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/pooladdress"
	"github.com/Bananapus/juice-buyback-hook/internal/pricing/uniswapv3"
	"github.com/Bananapus/juice-buyback-hook/internal/registry"
	"github.com/Bananapus/juice-buyback-hook/internal/sim"
)

var version = "dev"

// deps are the components every mode shares
type deps struct {
	cfg     *config.Config
	store   registry.Store
	sink    events.Sink
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
}

func main() {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("buybackd: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Observability first
	obs := cfg.Observability
	logger := observability.NewLogger(obs.Logging.Level, obs.Logging.Format)

	metrics, err := observability.NewMetrics(obs.ServiceName, version, obs.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		ServiceName:    obs.ServiceName,
		ServiceVersion: version,
		Environment:    obs.Environment,
		Endpoint:       obs.Tracing.Endpoint,
		SampleRatio:    obs.Tracing.SampleRatio,
		Enabled:        obs.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to create tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()
	tracer := observability.NewTracer(obs.ServiceName)

	logger.Info("starting buybackd", "version", version, "mode", cfg.Chain.Mode, "store", cfg.Registry.Store)

	sink, closeSink, err := newAuditSink(ctx, cfg, logger, metrics, tracer)
	if err != nil {
		return err
	}
	defer closeSink()

	store, err := openStore(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.LogError(context.Background(), "failed to close registry store", err)
		}
	}()

	d := deps{cfg: cfg, store: store, sink: sink, logger: logger, metrics: metrics, tracer: tracer}

	var apiCfg api.Config
	switch cfg.Chain.Mode {
	case config.ModeRPC:
		var closeRPC func()
		apiCfg, closeRPC, err = buildRPC(ctx, d)
		if err != nil {
			return err
		}
		defer closeRPC()
	default:
		apiCfg, err = buildSim(ctx, d)
		if err != nil {
			return err
		}
	}
	apiCfg.Logger = logger
	apiCfg.Metrics = metrics

	server, err := api.New(apiCfg)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newAuditSink logs every record and, with AWS enabled, publishes it to SNS
// off the payment path
func newAuditSink(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, tracer observability.Tracer) (events.Sink, func(), error) {
	sinks := events.Multi{notification.NewLogSink(logger)}
	if !cfg.AWS.Enabled {
		return sinks, func() {}, nil
	}

	awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint, SDKRetries: 1})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	publisher, err := notification.NewPublisher(notification.PublisherConfig{
		SNSClient: aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			TopicARN:  cfg.AWS.SNSTopicARN,
			Logger:    logger,
			Metrics:   metrics,
		}),
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	async := notification.NewAsyncSink(ctx, publisher, notification.AsyncConfig{Logger: logger, Metrics: metrics})
	logger.Info("publishing audit records", "topic", cfg.AWS.SNSTopicARN)
	return append(sinks, async), async.Close, nil
}

// openStore opens the registry store, fronted by the read-through cache when
// enabled
func openStore(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (registry.Store, error) {
	var store registry.Store
	switch cfg.Registry.Store {
	case config.StoreSQLite:
		sqlStore, err := registry.OpenSQLStore(cfg.Registry.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open registry database: %w", err)
		}
		store = sqlStore
	default:
		store = registry.NewMemoryStore()
	}

	cc := cfg.Registry.Cache
	if !cc.Enabled {
		return store, nil
	}

	var l2 cache.Cache
	if cc.UseRedis {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		l2 = redisCache
	}

	layered := cache.NewLayeredCache(cache.LayeredConfig{
		L1:       cache.NewMemoryCache(cc.L1MaxSize),
		L2:       l2,
		L1MaxTTL: cc.L1TTL,
		Metrics:  metrics,
	})
	return registry.NewCachedStore(store, layered, cc.TTL, logger), nil
}

// buildSim wires the simulated ledger and seeds the configured project with a
// native-token pool
func buildSim(ctx context.Context, d deps) (api.Config, error) {
	cfg := d.cfg
	env, err := sim.NewEnvironment(sim.EnvironmentConfig{
		Store:         d.store,
		HookAddress:   cfg.Chain.Hook(),
		WrappedNative: cfg.Chain.WrappedNativeAddress(),
		Factory:       cfg.Chain.FactoryAddress(),
		InitCodeHash:  cfg.Chain.InitCodeHashValue(),
		Events:        d.sink,
		Logger:        d.logger,
		Metrics:       d.metrics,
		Tracer:        d.tracer,
	})
	if err != nil {
		return api.Config{}, err
	}

	sc := cfg.Sim
	owner := common.HexToAddress(sc.Owner)
	if _, err := env.LaunchProject(sim.ProjectConfig{
		ID:                  sc.ProjectID,
		Owner:               owner,
		Weight:              sc.WeightValue(),
		ReservedRate:        money.NewBPSFromInt(int64(sc.ReservedRateBps)),
		ReservedBeneficiary: owner,
	}); err != nil {
		return api.Config{}, fmt.Errorf("failed to launch project: %w", err)
	}

	if err := seedPool(ctx, env, sc); err != nil {
		return api.Config{}, fmt.Errorf("failed to seed pool: %w", err)
	}

	// a persistent store may already hold the pair
	_, err = env.Registry.SetPool(ctx, owner, sc.ProjectID, metadata.NativeToken, sc.Fee, sc.TwapWindow, sc.TwapTolerance)
	if err != nil && !errors.Is(err, registry.ErrPoolAlreadySet) {
		return api.Config{}, fmt.Errorf("failed to register pool: %w", err)
	}

	// give the oracle a full window of history
	env.Chain.Advance(time.Duration(sc.TwapWindow) * time.Second)

	d.logger.Info("simulated environment ready",
		"project_id", sc.ProjectID,
		"owner", owner.Hex(),
		"hook", env.Hook.Address().Hex(),
		"terminal", env.Terminal.Address().Hex(),
	)

	return api.Config{
		Registry: env.Registry,
		Oracle:   env.Oracle,
		Hook:     env.Hook.Address(),
		Payments: env.Terminal,
		Faucet:   env.Chain,
	}, nil
}

// seedPool deploys the project's pool at the configured price with reserves
// matching its virtual liquidity
func seedPool(ctx context.Context, env *sim.Environment, sc config.SimConfig) error {
	projectToken, err := env.Controller.TokenOf(ctx, sc.ProjectID)
	if err != nil {
		return err
	}
	weth := env.Chain.WrappedNativeToken()

	liquidity := new(big.Float).SetInt(sc.LiquidityValue())
	sqrtPrice := new(big.Float).Sqrt(big.NewFloat(sc.PoolPrice))
	wethReserve, _ := new(big.Float).Quo(liquidity, sqrtPrice).Int(nil)
	projectReserve, _ := new(big.Float).Mul(liquidity, sqrtPrice).Int(nil)

	seed := sim.PoolSeed{
		ProjectID:       sc.ProjectID,
		SettlementToken: metadata.NativeToken,
		Fee:             sc.Fee,
		Liquidity:       sc.LiquidityValue(),
	}
	if token0, _ := pooladdress.SortTokens(projectToken, weth); token0 == weth {
		seed.SqrtPriceX96 = uniswapv3.FloatToQ96(sc.PoolPrice)
		seed.Reserve0, seed.Reserve1 = wethReserve, projectReserve
	} else {
		seed.SqrtPriceX96 = uniswapv3.FloatToQ96(1 / sc.PoolPrice)
		seed.Reserve0, seed.Reserve1 = projectReserve, wethReserve
	}

	_, err = env.DeployProjectPool(ctx, seed)
	return err
}

// buildRPC wires the registry and oracle against live pools. Payments are not
// served: the hook settles on chain.
func buildRPC(ctx context.Context, d deps) (api.Config, func(), error) {
	cfg := d.cfg

	endpoints := make([]blockchain.EndpointConfig, len(cfg.Chain.RPCEndpoints))
	for i, ep := range cfg.Chain.RPCEndpoints {
		endpoints[i] = blockchain.EndpointConfig{URL: ep.URL, Weight: ep.Weight}
	}
	clients, err := blockchain.NewClientPool(ctx, blockchain.ClientPoolConfig{
		Endpoints: endpoints,
		Logger:    d.logger,
		Metrics:   d.metrics,
	})
	if err != nil {
		return api.Config{}, nil, fmt.Errorf("failed to create client pool: %w", err)
	}
	caller := timeoutCaller{next: clients, timeout: cfg.Chain.CallTimeout}

	provider, err := amm.NewRPCProvider(amm.RPCProviderConfig{Caller: caller, Logger: d.logger, Metrics: d.metrics})
	if err != nil {
		clients.Close()
		return api.Config{}, nil, err
	}

	deriver := pooladdress.NewDeriver(cfg.Chain.FactoryAddress(), cfg.Chain.InitCodeHashValue())
	var resolver pooladdress.Resolver = deriver
	if cfg.Chain.VerifyPools {
		factory, err := pooladdress.NewFactoryResolver(caller, deriver)
		if err != nil {
			clients.Close()
			return api.Config{}, nil, err
		}
		resolver = factory
	}

	projects := newBoundProjects(cfg.Chain.Projects)
	reg, err := registry.New(registry.Config{
		Store:         d.store,
		Tokens:        projects,
		Permissions:   projects,
		Resolver:      resolver,
		WrappedNative: cfg.Chain.WrappedNativeAddress(),
		Events:        d.sink,
		Logger:        d.logger,
		Metrics:       d.metrics,
	})
	if err != nil {
		clients.Close()
		return api.Config{}, nil, err
	}

	engine := oracle.New(oracle.Config{
		Registry: reg,
		Pools:    provider,
		Logger:   d.logger,
		Metrics:  d.metrics,
		Tracer:   d.tracer,
	})

	return api.Config{
		Registry: reg,
		Oracle:   engine,
		Hook:     cfg.Chain.Hook(),
		Ready: func(context.Context) error {
			if clients.HealthyEndpointCount() == 0 {
				return blockchain.ErrNoHealthyEndpoints
			}
			return nil
		},
	}, clients.Close, nil
}
