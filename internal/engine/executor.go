package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calmasset/rebalancer/internal/market"
)

// Outcome is the engine-side order state. Orders start unresolved and move to
// exactly one terminal outcome.
type Outcome int

const (
	OutcomeUnresolved Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

var (
	ErrUnknownStatus = errors.New("unknown order status")
	ErrPollExhausted = errors.New("order polling attempts exhausted")
)

// TranslateStatus maps a raw brokerage order status onto an Outcome. The
// mapping is total over the six known statuses; anything else is an error,
// never a silent unresolved.
func TranslateStatus(raw string) (Outcome, error) {
	switch raw {
	case "queued", "unconfirmed", "confirmed", "partially_filled":
		return OutcomeUnresolved, nil
	case "filled":
		return OutcomeSuccess, nil
	case "rejected", "canceled", "failed":
		return OutcomeFailure, nil
	}

	return OutcomeUnresolved, fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

type orderPlacer interface {
	PlaceOrder(ctx context.Context, req market.OrderRequest) (market.Order, error)
	OrderStatus(ctx context.Context, url string) (string, error)
}

// PollPolicy bounds the status polling loop.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Executor places market orders and polls them to a terminal outcome.
type Executor struct {
	log    *slog.Logger
	broker orderPlacer
	policy PollPolicy
}

func NewExecutor(log *slog.Logger, broker orderPlacer, policy PollPolicy) *Executor {
	return &Executor{
		log:    log,
		broker: broker,
		policy: policy,
	}
}

// Execute drives a single order to resolution.
func (e *Executor) Execute(ctx context.Context, req market.OrderRequest) (Outcome, error) {
	return e.ExecuteBatch(ctx, []market.OrderRequest{req})
}

// ExecuteBatch places every order first, then polls the whole batch together.
// The batch resolves only once every member is terminal; a single failure
// fails the batch but does not cancel the remaining members.
func (e *Executor) ExecuteBatch(ctx context.Context, reqs []market.OrderRequest) (Outcome, error) {
	if len(reqs) == 0 {
		return OutcomeSuccess, nil
	}

	orders := make([]market.Order, len(reqs))
	outcomes := make([]Outcome, len(reqs))
	for i, req := range reqs {
		ord, err := e.broker.PlaceOrder(ctx, req)
		if err != nil {
			return OutcomeFailure, fmt.Errorf("failed to place %s order for %s: %w", req.Side, req.Symbol, err)
		}

		e.log.Info("order placed",
			slog.String("symbol", ord.Symbol),
			slog.String("side", string(ord.Side)),
			slog.String("qty", req.Qty.String()))
		orders[i] = ord
	}

	ticker := time.NewTicker(e.policy.Interval)
	defer ticker.Stop()

	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		pending := false
		for i := range orders {
			if outcomes[i] != OutcomeUnresolved {
				continue
			}

			raw, err := e.broker.OrderStatus(ctx, orders[i].URL)
			if err != nil {
				return OutcomeFailure, fmt.Errorf("failed to check order status for %s: %w", orders[i].Symbol, err)
			}

			out, err := TranslateStatus(raw)
			if err != nil {
				return OutcomeFailure, err
			}

			outcomes[i] = out
			if out == OutcomeUnresolved {
				pending = true
			}
		}

		if !pending {
			for i, out := range outcomes {
				if out == OutcomeFailure {
					e.log.Warn("order failed",
						slog.String("symbol", orders[i].Symbol),
						slog.String("side", string(orders[i].Side)))
					return OutcomeFailure, nil
				}
			}
			return OutcomeSuccess, nil
		}

		e.log.Info("unresolved orders remain, waiting", slog.Int("attempt", attempt+1))
		select {
		case <-ctx.Done():
			return OutcomeUnresolved, ctx.Err()
		case <-ticker.C:
		}
	}

	return OutcomeUnresolved, fmt.Errorf("%w after %d attempts", ErrPollExhausted, e.policy.MaxAttempts)
}
