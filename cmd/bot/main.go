// Command bot runs the option seller: it polls market state on a fixed
// cadence, sells puts and calls against the configured basket, and nurses
// every resulting order through fill, price improvement, or cancellation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ssperling5/IBBot/internal/broker"
	"github.com/ssperling5/IBBot/internal/config"
	"github.com/ssperling5/IBBot/internal/dashboard"
	"github.com/ssperling5/IBBot/internal/engine"
	"github.com/ssperling5/IBBot/internal/models"
	"github.com/ssperling5/IBBot/internal/orders"
	"github.com/ssperling5/IBBot/internal/storage"
	"github.com/ssperling5/IBBot/internal/strategy"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)

	if err := run(configPath, logger); err != nil {
		logger.Fatalf("Bot error: %v", err)
	}
	logger.Println("Bot stopped successfully")
}

func run(configPath string, logger *log.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	instruments, err := config.LoadInstruments(cfg.Instruments.Path)
	if err != nil {
		return fmt.Errorf("loading instruments: %w", err)
	}
	logger.Printf("Loaded %d instruments from %s", len(instruments), cfg.Instruments.Path)
	for _, inst := range instruments {
		logger.Printf("  %s buy<=%.2f sell>=%.2f weight %.0f",
			inst.Ticker, inst.TargetBuy, inst.TargetSell, inst.WeightTarget)
	}

	logger.Printf("Starting option seller in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - no real money at risk")
	}

	gateway, err := buildBroker(cfg, instruments, logger)
	if err != nil {
		return err
	}
	b := broker.NewCircuitBreakerBroker(gateway)
	defer func() {
		if err := b.Close(); err != nil {
			logger.Printf("Broker close failed: %v", err)
		}
	}()

	journal, err := storage.NewJSONJournal(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}

	book := orders.NewBook()
	manager := orders.NewManager(b, book, journal, logger, orders.Config{
		LoopMax:     cfg.Engine.LoopMax,
		ModMax:      cfg.Engine.ModMax,
		PriceTick:   cfg.Engine.PriceTick,
		CallTimeout: cfg.GetCallTimeout(),
	})
	selector := strategy.NewSelector(b, logger, strategy.Config{
		ExpiryWindowDays: cfg.Engine.ExpiryWindowDays,
		CallTimeout:      cfg.GetCallTimeout(),
	})

	eng, err := engine.New(engine.Config{
		CycleInterval: cfg.GetCycleInterval(),
		CallTimeout:   cfg.GetCallTimeout(),
		BuyThreshold:  cfg.Engine.BuyThreshold,
		SellThreshold: cfg.Engine.SellThreshold,
		CancelOrphans: cfg.Engine.CancelOrphans,
	}, b, instruments, selector, manager, journal, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(dashboard.Config{Port: cfg.Dashboard.Port},
			eng, journal, newDashboardLogger(cfg.Environment.LogLevel))
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	return g.Wait()
}

// buildBroker constructs the configured gateway. Only the paper venue is
// wired into this build; live connectivity is a separate deployment concern.
func buildBroker(cfg *config.Config, instruments []models.Instrument, logger *log.Logger) (broker.Broker, error) {
	switch cfg.Broker.Provider {
	case "sim":
		// Seed the paper venue between the instrument's targets when the
		// operator did not pin a starting price.
		prices := make(map[string]float64, len(instruments))
		for t, p := range cfg.Broker.StartPrices {
			prices[t] = p
		}
		for _, inst := range instruments {
			if _, ok := prices[inst.Ticker]; !ok {
				prices[inst.Ticker] = (inst.TargetBuy + inst.TargetSell) / 2
			}
		}
		return broker.NewSimBroker(prices, logger), nil
	default:
		return nil, fmt.Errorf("broker provider %q not supported", cfg.Broker.Provider)
	}
}

func newDashboardLogger(level string) *logrus.Logger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return l
}
