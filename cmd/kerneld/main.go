// Command kerneld hosts the agent-economy kernel World behind an HTTP
// surface: action submission, balance/event introspection, Prometheus
// metrics, and a scheduled mint-auction tick. Structured the way the
// teacher's cmd/gateway/main.go assembles its dependencies and shuts
// down gracefully, generalized from a Marble-hosted blockchain gateway
// to an in-memory kernel process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/agentkernel/kernel/internal/httpapi"
	"github.com/agentkernel/kernel/internal/kernel"
	"github.com/agentkernel/kernel/internal/ledger"
	"github.com/agentkernel/kernel/internal/logging"
	"github.com/agentkernel/kernel/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	rateTracker := buildRateTracker(cfg.Resources)

	opts := []kernel.Option{
		kernel.WithMintRatio(cfg.Mint.Ratio),
		kernel.WithCacheTTL(cfg.Permission.CacheTTL()),
		kernel.WithMaxContractDepth(cfg.Sandbox.MaxContractDepth),
		kernel.WithMaxInvokeDepth(cfg.Sandbox.MaxInvokeDepth),
		kernel.WithSandboxTimeout(cfg.Sandbox.ExecutionTimeout()),
		kernel.WithLLMTimeout(cfg.Sandbox.LLMTimeout()),
	}
	if cfg.Permission.DefaultOnMissingContract != "" {
		opts = append(opts, kernel.WithDefaultOnMissingContract(cfg.Permission.DefaultOnMissingContract))
	}

	var metrics *kernel.Metrics
	if cfg.Metrics.Enabled {
		metrics = kernel.NewMetrics(prometheus.DefaultRegisterer)
		opts = append(opts, kernel.WithMetrics(metrics))
	}

	world := kernel.New(rateTracker, logger, opts...)

	if cfg.Bootstrap.EnableGenesis {
		seedGenesisArtifacts(world, logger)
	}

	scheduler := cron.New()
	if cfg.Mint.TickCron != "" {
		if _, err := scheduler.AddFunc(cfg.Mint.TickCron, func() {
			result := world.ResolveMintAuction()
			world.RefreshGauges()
			logger.WithFields(map[string]any{
				"winner_id":    result.WinnerID,
				"price_paid":   result.PricePaid,
				"scrip_minted": result.ScripMinted,
				"error":        result.Error,
			}).Info("mint auction tick resolved")
		}); err != nil {
			log.Fatalf("invalid mint tick cron expression %q: %v", cfg.Mint.TickCron, err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := httpapi.New(world, logger, cfg.Metrics.Path)
	addr := cfg.Server.Host + ":" + itoa(cfg.Server.Port)
	if err := server.Start(addr); err != nil {
		log.Fatalf("start http server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("http server shutdown error")
	}
}

// buildRateTracker seeds one rolling-window bucket per configured
// renewable resource (SPEC_FULL.md §11); an empty cfg.Resources yields a
// tracker with no configured windows, under which every resource behaves
// as a plain stock on the Ledger.
func buildRateTracker(resources []config.ResourceDefinition) *ledger.RateTracker {
	windows := make(map[string]ledger.WindowConfig, len(resources))
	for _, r := range resources {
		windows[r.Name] = ledger.WindowConfig{
			Capacity: decimal.NewFromFloat(r.Capacity),
			Window:   time.Duration(r.WindowSecs * float64(time.Second)),
		}
	}
	return ledger.NewRateTracker(windows)
}

// seedGenesisArtifacts writes the kernel's own bootstrap document (the
// handbook) as a kernel-authored freeware artifact so agents have
// something to read on a cold start. Kept deliberately small:
// full genesis-agent bootstrapping is out of scope (spec §1 Non-goals).
func seedGenesisArtifacts(world *kernel.World, logger *logging.Logger) {
	result := world.ExecuteAction(kernel.Intent{
		Kind:             kernel.IntentWrite,
		PrincipalID:      "genesis",
		ArtifactID:       "handbook",
		ArtifactType:     "document",
		Content:          "Welcome to the kernel. Read, write, invoke, and trade scrip with other agents.",
		AccessContractID: "kernel_contract_freeware",
	})
	if !result.Success {
		logger.WithField("message", result.Message).Warn("failed to seed genesis handbook")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
