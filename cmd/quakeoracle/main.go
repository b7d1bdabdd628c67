package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/quakeoracle/internal/config"
	"github.com/rewired-gh/quakeoracle/internal/heartbeat"
	"github.com/rewired-gh/quakeoracle/internal/logger"
	"github.com/rewired-gh/quakeoracle/internal/metrics"
	"github.com/rewired-gh/quakeoracle/internal/monitor"
	"github.com/rewired-gh/quakeoracle/internal/polymarket"
	"github.com/rewired-gh/quakeoracle/internal/rules"
	"github.com/rewired-gh/quakeoracle/internal/storage"
	"github.com/rewired-gh/quakeoracle/internal/telegram"
	"github.com/rewired-gh/quakeoracle/internal/tracker"
	"github.com/rewired-gh/quakeoracle/internal/usgs"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxSeen, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ruleSet, err := rules.Load(cfg.Rules)
	if err != nil {
		logger.Fatal("Failed to load market rules: %v", err)
	}
	logger.Info("Loaded %d market rules (timezone: %s)", ruleSet.Len(), cfg.Rules.Timezone)

	tr, err := tracker.New(store, cfg.Monitor.PendingWindow, cfg.Monitor.SeenRetention)
	if err != nil {
		logger.Fatal("Failed to restore tracker state: %v", err)
	}

	feed := usgs.NewClient(cfg.USGS.Endpoint, cfg.USGS.Timeout, cfg.USGS.Limit, cfg.USGS.MaxRetries)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var trader *polymarket.Client
	if cfg.Trading.Enabled {
		trader = polymarket.NewClient(cfg.Trading)
		logger.Info("Trading enabled with %d market mappings", len(cfg.Trading.Markets))
	} else {
		logger.Debug("Trading disabled")
	}

	var sched *heartbeat.Scheduler
	if cfg.Heartbeat.Enabled {
		sched, err = heartbeat.New(store, cfg.Heartbeat.Timezone, cfg.Heartbeat.Hour, cfg.Heartbeat.ArmingWindow)
		if err != nil {
			logger.Fatal("Failed to initialize heartbeat scheduler: %v", err)
		}
	}

	m := metrics.New()
	if cfg.Metrics.Enabled {
		m.Serve(cfg.Metrics.ListenAddr)
	}

	monitorConfig := monitor.Config{
		CriticalMagnitude: cfg.Monitor.CriticalMagnitude,
		SafetyMargin:      cfg.USGS.SafetyMargin,
	}

	// The notifier/trader collaborators are optional; a typed nil pointer
	// must not reach the interface fields.
	var notifier monitor.Notifier
	if telegramClient != nil {
		notifier = telegramClient
	}
	var orderPrep monitor.Trader
	if trader != nil {
		orderPrep = trader
	}

	mon := monitor.New(
		feed, notifier, orderPrep, store, tr, ruleSet, sched, m,
		monitorConfig, time.Now().Add(-cfg.USGS.Lookback),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
		if err := telegramClient.SendStartup(); err != nil {
			logger.Warn("Failed to send startup notification: %v", err)
		}
	}

	logger.Info("Starting monitoring service (poll: %v-%v, lookback: %v, critical: M%.1f)",
		cfg.USGS.PollMin,
		cfg.USGS.PollMax,
		cfg.USGS.Lookback,
		cfg.Monitor.CriticalMagnitude,
	)

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial monitoring cycle")
	handleCycleResult(mon.Cycle(ctx))

	// Jittered sleep between cycles keeps the polling cadence from locking
	// onto the feed's own update schedule.
	jitter := cfg.USGS.PollMax - cfg.USGS.PollMin
	timer := time.NewTimer(nextInterval(cfg.USGS.PollMin, jitter))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-timer.C:
			logger.Debug("Starting scheduled monitoring cycle")
			handleCycleResult(mon.Cycle(ctx))
			timer.Reset(nextInterval(cfg.USGS.PollMin, jitter))
		}
	}
}

func nextInterval(min, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(jitter)))
}
