package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calmasset/rebalancer/internal/config"
	"github.com/calmasset/rebalancer/internal/engine"
	"github.com/calmasset/rebalancer/internal/journal"
	"github.com/calmasset/rebalancer/internal/market"
	"github.com/calmasset/rebalancer/internal/platform/emulator"
	"github.com/calmasset/rebalancer/internal/platform/robinhood"
	"github.com/calmasset/rebalancer/internal/scheduler"
	"github.com/calmasset/rebalancer/internal/web"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const schedulerTick = 30 * time.Second

// broker is the full brokerage surface the agent needs: market data, the
// session, and order placement.
type broker interface {
	MarketOpen(ctx context.Context) (bool, error)
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Positions(ctx context.Context) ([]market.Position, error)
	Quote(ctx context.Context, symbol string) (market.Quote, error)
	History(ctx context.Context, symbol, interval, span string) ([]market.Bar, error)
	Instrument(ctx context.Context, symbol string) (market.Instrument, error)
	Equity(ctx context.Context) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req market.OrderRequest) (market.Order, error)
	OrderStatus(ctx context.Context, url string) (string, error)
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := run(log); err != nil {
		log.Error("agent stopped", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	configPath := os.Getenv("CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return err
	}

	brk, err := newBroker(log, cfg)
	if err != nil {
		return err
	}

	var store *journal.Store
	if cfg.Journal.Path != "" {
		store, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	exec := engine.NewExecutor(log, brk, engine.PollPolicy{
		Interval:    time.Duration(cfg.Orders.PollInterval),
		MaxAttempts: cfg.Orders.MaxPolls,
	})

	var rebalancer *engine.Rebalancer
	if store != nil {
		rebalancer = engine.NewRebalancer(log, *cfg, brk, exec, store)
	} else {
		rebalancer = engine.NewRebalancer(log, *cfg, brk, exec, nil)
	}

	gatherer := engine.NewGatherer(log, cfg.Pair, brk, store)

	jobs, err := buildJobs(cfg, rebalancer, gatherer, store != nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.New(log, schedulerTick, jobs...).Run(ctx)
	})

	if cfg.Server.Addr != "" {
		g.Go(func() error {
			return web.NewServer(log, *cfg, brk).Run(ctx)
		})
	}

	log.Info("agent started",
		"pair", fmt.Sprintf("%s/%s", cfg.Pair.Primary, cfg.Pair.Hedge),
		"config", configPath)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func newBroker(log *slog.Logger, cfg *config.Config) (broker, error) {
	switch b := cfg.BrokerRef.Broker.(type) {
	case config.Robinhood:
		return robinhood.NewPlatform(log, b), nil
	case config.Emulator:
		return emulator.NewPlatform(log, b), nil
	default:
		return nil, fmt.Errorf("no usable broker configured")
	}
}

func buildJobs(cfg *config.Config, rebalancer *engine.Rebalancer, gatherer *engine.Gatherer, journalled bool) ([]scheduler.Job, error) {
	var jobs []scheduler.Job

	rebalance, err := scheduler.NewDailyJob("rebalance", cfg.Schedule.RebalanceAt, func(ctx context.Context) error {
		trace := rebalancer.Run(ctx)
		if trace.Success {
			gatherer.SetWeight(trace.FractionA)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	jobs = append(jobs, rebalance)

	// Move sampling is pointless without a journal to write to.
	if journalled {
		gather, err := scheduler.NewWindowJob("gather",
			time.Duration(cfg.Schedule.GatherEvery),
			cfg.Schedule.GatherFrom,
			cfg.Schedule.GatherTo,
			gatherer.Sample,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, gather)
	}

	return jobs, nil
}
