package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/calmasset/rebalancer/internal/config"
	"github.com/calmasset/rebalancer/internal/engine"
	"github.com/calmasset/rebalancer/internal/market"
	"github.com/gin-gonic/gin"
)

// marketData is the read-only slice of the brokerage the server needs.
type marketData interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
	History(ctx context.Context, symbol, interval, span string) ([]market.Bar, error)
}

// Server exposes a small read-only HTTP API over the brokerage data the
// agent trades on. It never places orders.
type Server struct {
	log     *slog.Logger
	addr    string
	pair    config.Pair
	history config.History
	broker  marketData
	engine  *gin.Engine
}

func NewServer(log *slog.Logger, cfg config.Config, broker marketData) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		log:     log,
		addr:    cfg.Server.Addr,
		pair:    cfg.Pair,
		history: cfg.History,
		broker:  broker,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.health)
	r.GET("/api/quote/:symbol", s.quote)
	r.GET("/api/history/:symbol", s.historyBars)
	r.GET("/api/allocation", s.allocation)
	s.engine = r

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	s.log.Info("http server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the routes for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) quote(c *gin.Context) {
	symbol := c.Param("symbol")
	q, err := s.broker.Quote(c.Request.Context(), symbol)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"ask":    q.Ask.String(),
		"bid":    q.Bid.String(),
		"mid":    q.Mid().String(),
	})
}

func (s *Server) historyBars(c *gin.Context) {
	symbol := c.Param("symbol")
	bars, err := s.broker.History(c.Request.Context(), symbol, s.history.Interval, s.history.Span)
	if err != nil {
		s.fail(c, err)
		return
	}

	type barView struct {
		Time    time.Time `json:"time"`
		Open    string    `json:"open"`
		Low     string    `json:"low"`
		High    string    `json:"high"`
		Close   string    `json:"close"`
		Volume  string    `json:"volume"`
		Typical string    `json:"typical"`
	}

	views := make([]barView, len(bars))
	for i, b := range bars {
		views[i] = barView{
			Time:    b.Time,
			Open:    b.Open.String(),
			Low:     b.Low.String(),
			High:    b.High.String(),
			Close:   b.Close.String(),
			Volume:  b.Volume.String(),
			Typical: b.Typical().String(),
		}
	}

	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "bars": views})
}

// allocation recomputes the current volatility split without trading on it.
func (s *Server) allocation(c *gin.Context) {
	ctx := c.Request.Context()

	barsA, err := s.broker.History(ctx, s.pair.Primary, s.history.Interval, s.history.Span)
	if err != nil {
		s.fail(c, err)
		return
	}

	barsB, err := s.broker.History(ctx, s.pair.Hedge, s.history.Interval, s.history.Span)
	if err != nil {
		s.fail(c, err)
		return
	}

	fracA, err := engine.Allocate(barsA, barsB)
	if errors.Is(err, engine.ErrZeroVolatility) {
		fracA = 0.5
	} else if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"primary":    s.pair.Primary,
		"hedge":      s.pair.Hedge,
		"fraction_a": fracA,
		"fraction_b": 1.0 - fracA,
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
