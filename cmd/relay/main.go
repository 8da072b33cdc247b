// Command relay runs the paymaster relay gateway: it ingests
// UserOperations, decides whether to sponsor their gas, signs the
// sponsorship commitment, and hands the result to a bundler's mempool.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/t402-io/paymaster-relay/internal/auth"
	"github.com/t402-io/paymaster-relay/internal/cache"
	"github.com/t402-io/paymaster-relay/internal/config"
	"github.com/t402-io/paymaster-relay/internal/gateway"
	"github.com/t402-io/paymaster-relay/internal/health"
	"github.com/t402-io/paymaster-relay/internal/mempool"
	"github.com/t402-io/paymaster-relay/internal/metrics"
	"github.com/t402-io/paymaster-relay/internal/policy"
	"github.com/t402-io/paymaster-relay/internal/ratelimit"
	"github.com/t402-io/paymaster-relay/internal/signer"
	"github.com/t402-io/paymaster-relay/internal/sponsorship"
	"github.com/t402-io/paymaster-relay/internal/uop"
	"github.com/t402-io/paymaster-relay/internal/validator"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Printf("Starting paymaster relay")
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Chain ID: %d", cfg.ChainID)
	log.Printf("Bundler: %s", cfg.BundlerURL)
	log.Printf("Signer backend: %s", cfg.SignerBackend)

	registry := uop.NewRegistry([]uop.EntryPointInfo{
		{Address: common.HexToAddress(cfg.EntryPointV06), Version: uop.V06},
		{Address: common.HexToAddress(cfg.EntryPointV07), Version: uop.V07},
	})

	signerBackend, err := buildSigner(cfg)
	if err != nil {
		log.Fatalf("failed to initialize signer: %v", err)
	}

	ruleSet, err := policy.Load(cfg.PolicyFilePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load policy file %q: %v", cfg.PolicyFilePath, err)
	}
	if err != nil {
		log.Printf("policy file %q not found, starting with an empty default policy", cfg.PolicyFilePath)
		ruleSet = &policy.RuleSet{
			Default:   &policy.Policy{Name: "default"},
			Named:     map[string]*policy.Policy{},
			Blacklist: map[common.Address]bool{},
			Whitelist: map[common.Address]bool{},
		}
	}
	policyEngine := policy.New(ruleSet)

	limiter, cacheClient := buildLimiter(cfg)
	if tb, ok := limiter.(*ratelimit.TokenBucket); ok {
		go func() {
			for range time.Tick(60 * time.Second) {
				tb.Sweep(60 * time.Second)
			}
		}()
	}

	identities := make(map[string]auth.Identity, len(cfg.APIKeys))
	for key, tag := range cfg.APIKeys {
		identities[key] = auth.Identity{Key: key, Tier: tag}
	}
	authenticator, err := auth.New(identities, nil, cfg.AllowedCIDRs)
	if err != nil {
		log.Fatalf("failed to initialize auth: %v", err)
	}

	bundler := mempool.New(cfg.BundlerURL, common.HexToAddress(cfg.EntryPointV06))

	svc := sponsorship.New(
		validator.New(validator.DefaultLimits(), registry),
		policyEngine,
		limiter,
		signerBackend,
		bundler,
		cfg.ChainID,
	)

	checker := health.NewChecker(version())
	checker.Register("signer", func(ctx context.Context) error {
		if !signerBackend.Healthy() {
			return errNotHealthy("signer")
		}
		return nil
	})
	checker.RegisterWithThresholds("bundler", func(ctx context.Context) error {
		_, err := bundler.SupportedEntryPoints(ctx)
		return err
	}, 3, 10)
	if cacheClient != nil {
		checker.Register("redis", func(ctx context.Context) error {
			return cacheClient.Ping(ctx)
		})
	}

	m := metrics.New()
	server := gateway.New(cfg, m, limiter, authenticator, checker, svc, bundler)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	waitForShutdown(server)
}

// buildSigner constructs the configured sponsorship signer: a local ECDSA
// key, or the remote TEE dual-signature protocol, per spec §4.4.
func buildSigner(cfg *config.Config) (signer.Backend, error) {
	switch cfg.SignerBackend {
	case "tee":
		return signer.NewTEE(signer.TEEConfig{
			Endpoint:    cfg.TEEEndpoint,
			AccountID:   cfg.TEEAccountID,
			LocalKeyHex: cfg.TEELocalKeyHex,
		})
	default:
		return signer.NewLocal(cfg.SignerKeyHex)
	}
}

// buildLimiter constructs the configured rate-limit backend: an
// in-process token bucket by default, or a Redis-backed fixed window for
// multi-replica deployments. The returned cache client is non-nil only
// when Redis is in use, so the caller can wire a health check for it.
func buildLimiter(cfg *config.Config) (ratelimit.Limiter, *cache.Client) {
	if !cfg.RateLimitUseRedis {
		return ratelimit.NewTokenBucket(cfg.RateLimitRequestsPerSecond, cfg.RateLimitBurst), nil
	}

	c, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Printf("failed to connect to redis at %q, falling back to in-process rate limiting: %v", cfg.RedisURL, err)
		return ratelimit.NewTokenBucket(cfg.RateLimitRequestsPerSecond, cfg.RateLimitBurst), nil
	}
	requests := int(cfg.RateLimitRequestsPerSecond * cfg.RateLimitWindow.Seconds())
	if requests < 1 {
		requests = 1
	}
	return ratelimit.NewRedisLimiter(c, requests, cfg.RateLimitWindow), c
}

func waitForShutdown(server *gateway.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

func version() string {
	if v := os.Getenv("RELAY_VERSION"); v != "" {
		return v
	}
	return "dev"
}

type healthError string

func (e healthError) Error() string { return string(e) }

func errNotHealthy(component string) error {
	return healthError(component + " backend is not healthy")
}
