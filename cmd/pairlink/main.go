package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/pairlink/adapters/chain"
	"github.com/layer-3/pairlink/adapters/events"
	"github.com/layer-3/pairlink/adapters/relay"
	"github.com/layer-3/pairlink/adapters/store"
	"github.com/layer-3/pairlink/adapters/tokenizer"
	"github.com/layer-3/pairlink/config"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/ports"
	"github.com/layer-3/pairlink/service"
	"github.com/layer-3/pairlink/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "pairlink",
		Usage: "wallet pairing service",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "listen address (overrides PAIRLINK_LISTEN_ADDR)"},
					&cli.StringFlag{Name: "redis-url", Usage: "redis URL, memory store when empty (overrides REDIS_URL)"},
					&cli.StringFlag{Name: "chains", Usage: "YAML chain list (overrides PAIRLINK_CHAINS_FILE)"},
					&cli.DurationFlag{Name: "pairing-timeout", Usage: "idle time before a pairing session expires"},
					&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
				},
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	if c.IsSet("listen") {
		cfg.ListenAddr = c.String("listen")
	}
	if c.IsSet("redis-url") {
		cfg.RedisURL = c.String("redis-url")
	}
	if c.IsSet("chains") {
		if err := cfg.LoadChains(c.String("chains")); err != nil {
			return nil, err
		}
	}
	if c.IsSet("pairing-timeout") {
		cfg.PairingTimeout = c.Duration("pairing-timeout")
	}
	if c.IsSet("debug") {
		cfg.LogDebug = c.Bool("debug")
	}

	return cfg, cfg.Validate()
}

const sessionEventsMaxlen = 10000

// backing groups the stores and pub/sub picked for the configured deployment
type backing struct {
	sessions   ports.SessionStore
	tokens     ports.TokenStore
	publisher  message.Publisher
	subscriber message.Subscriber
	janitor    relay.Janitor
	close      func()
}

func newBacking(cfg *config.Config, logger watermill.LoggerAdapter) (*backing, error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-memory store and pub/sub", nil)
		memory := store.NewMemoryStore()
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
		return &backing{
			sessions:   memory,
			tokens:     memory,
			publisher:  pubSub,
			subscriber: pubSub,
			close:      func() { _ = pubSub.Close() },
		}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
			// session events are a feed, not a log
			Maxlens: map[string]int64{events.SessionTopic: sessionEventsMaxlen},
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}

	// no consumer group: every instance sees every approval
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis subscriber: %w", err)
	}

	redisStore := store.NewRedisStore(redisClient)
	return &backing{
		sessions:   redisStore,
		tokens:     redisStore,
		publisher:  publisher,
		subscriber: subscriber,
		janitor:    relay.NewRedisJanitor(redisClient),
		close: func() {
			_ = subscriber.Close()
			_ = publisher.Close()
			_ = redisClient.Close()
		},
	}, nil
}

func signingKey(path string, logger watermill.LoggerAdapter) (*ecdsa.PrivateKey, error) {
	if path == "" {
		logger.Info("PAIRLINK_SIGNING_KEY_FILE not set, generating an ephemeral signing key", nil)
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return jwt.ParseECPrivateKeyFromPEM(pem)
}

func newAggregator(ctx context.Context, cfg *config.Config, logger watermill.LoggerAdapter) (*service.Aggregator, func(), error) {
	aggregator := service.NewAggregator(logger)
	var readers []*chain.EVMReader
	closeAll := func() {
		for _, r := range readers {
			r.Close()
		}
	}

	for _, c := range cfg.Chains {
		reader, err := chain.DialEVM(ctx, c.RPCURL, c.Symbol, c.Decimals)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("chain %d: %w", c.ID, err)
		}
		readers = append(readers, reader)

		tokens := make([]core.Token, 0, len(c.Tokens))
		for _, t := range c.Tokens {
			tokens = append(tokens, core.Token{Symbol: t.Symbol, Address: t.Address, Decimals: t.Decimals})
		}

		aggregator.Register(c.ID, service.Backend{
			Name:   c.Name,
			Reader: reader,
			Tokens: tokens,
			Retry: service.RetryPolicy{
				Attempts:  c.Retry.Attempts,
				BaseDelay: c.Retry.BaseDelay,
				Factor:    c.Retry.Factor,
			},
			Transient: chain.IsTransient,
		})
		logger.Info("Registered chain", watermill.LogFields{"chain_id": c.ID, "name": c.Name, "tokens": len(tokens)})
	}

	return aggregator, closeAll, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := watermill.NewStdLogger(cfg.LogDebug, false)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	privateKey, err := signingKey(cfg.SigningKeyFile, logger)
	if err != nil {
		return err
	}

	b, err := newBacking(cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	aggregator, closeChains, err := newAggregator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeChains()

	relayCfg := relay.DefaultConfig()
	relayCfg.PairingTTL = cfg.PairingTimeout
	relayCfg.Janitor = b.janitor
	pairingRelay := relay.New(relayCfg, b.publisher, b.subscriber, logger)

	tokenizer := tokenizer.NewJWTTokenizer(privateKey)
	eventPub := events.NewWatermillPublisher(b.publisher)

	managerCfg := service.ManagerConfig{
		PairingTimeout: cfg.PairingTimeout,
		SessionTTL:     cfg.SessionTTL,
		QRSize:         cfg.QRSize,
	}
	controllerCfg := service.ControllerConfig{
		PairingTimeout: cfg.PairingTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		AccessTTL:      cfg.AccessTTL,
		SessionTTL:     cfg.SessionTTL,
	}

	flows := service.NewFlows(func() *service.Controller {
		manager := service.NewManager(managerCfg, pairingRelay, b.sessions, eventPub, logger)
		return service.NewController(controllerCfg, manager, tokenizer, b.tokens, logger)
	})

	handlers := http.NewHandlers(flows, pairingRelay, aggregator)
	router := http.SetupRouter(handlers, service.NewAuthenticator(tokenizer, b.tokens, b.sessions))

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := flows.Sweep(ctx, cfg.FlowIdleTTL); n > 0 {
					logger.Debug("Swept idle flows", watermill.LogFields{"count": n})
				}
			}
		}
	}()

	srv := &nethttp.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", watermill.LogFields{"addr": cfg.ListenAddr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flows.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	logger.Info("Server stopped", nil)
	return nil
}
