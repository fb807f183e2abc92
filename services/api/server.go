// Package api serves backtests over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"channel-backtest/services/backtest"
	"channel-backtest/services/cache"
	"channel-backtest/services/engine"
	"channel-backtest/services/marketdata"
	"channel-backtest/services/monitoring"
	"channel-backtest/strategies"
)

type Options struct {
	// Defaults applied to fields a request leaves out.
	Strategy     strategies.Config
	PositionSize float64

	// DataDir is the root for requests that name a file. Empty disables
	// file requests.
	DataDir    string
	RunTimeout time.Duration
	MaxJobs    int
	Version    string

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Cache   cache.Cache
}

type Server struct {
	opts  Options
	store *Store
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	return &Server{opts: opts, store: NewStore(opts.MaxJobs)}
}

// Router builds the gin engine with every route installed.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())
	s.SetupRoutes(r)
	return r
}

func (s *Server) SetupRoutes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealthCheck)
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}
	v1 := r.Group("/v1")
	{
		v1.GET("/strategies", s.handleStrategies)
		v1.POST("/backtests", s.handleBacktestRequest)
		v1.GET("/backtests/:job_id", s.handleGetBacktestResult)
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.opts.Logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) abort(c *gin.Context, status int, e *APIError) {
	c.AbortWithStatusJSON(status, gin.H{"error": e})
}

func (s *Server) handleBacktestRequest(c *gin.Context) {
	req := BacktestRequest{
		Strategy:     s.opts.Strategy.Kind,
		Params:       s.opts.Strategy.Donchian,
		PositionSize: s.opts.PositionSize,
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, http.StatusBadRequest, ErrInvalidParams.With(err.Error()))
		return
	}

	runner, err := backtest.NewRunner(backtest.Options{
		Strategy:     req.StrategyConfig(),
		PositionSize: req.PositionSize,
		Logger:       s.opts.Logger,
		Metrics:      s.opts.Metrics,
		Cache:        s.opts.Cache,
	})
	if err != nil {
		status, apiErr := classify(err)
		s.abort(c, status, apiErr)
		return
	}

	bars, symbol, err := s.requestBars(req)
	if err != nil {
		status, apiErr := classify(err)
		s.abort(c, status, apiErr)
		return
	}

	ctx := c.Request.Context()
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}
	res, err := runner.Run(ctx, symbol, bars)
	if err != nil {
		s.opts.Logger.Error("Backtest request failed", zap.String("symbol", symbol), zap.Error(err))
		status, apiErr := classify(err)
		s.abort(c, status, apiErr)
		return
	}

	resp := newResponse(res.Manifest.RunID, res)
	s.store.Put(resp)
	c.JSON(http.StatusOK, resp)
}

// requestBars resolves inline bars or the named file.
func (s *Server) requestBars(req BacktestRequest) ([]engine.Bar, string, error) {
	switch {
	case req.Path != "" && len(req.Bars) > 0:
		return nil, "", engine.Invalid("path", "give either bars or path, not both")
	case req.Path != "":
		if s.opts.DataDir == "" {
			return nil, "", engine.Invalid("path", "file requests are disabled")
		}
		path := filepath.Join(s.opts.DataDir, filepath.Clean("/"+req.Path))
		bars, _, err := marketdata.LoadFile(path)
		if err != nil {
			return nil, "", err
		}
		symbol := req.Symbol
		if symbol == "" {
			symbol = marketdata.SymbolFromPath(path)
		}
		return bars, symbol, nil
	default:
		bars := req.EngineBars()
		if len(bars) == 0 {
			return nil, "", fmt.Errorf("request: %w", marketdata.ErrNoBars)
		}
		return bars, req.Symbol, nil
	}
}

func (s *Server) handleGetBacktestResult(c *gin.Context) {
	jobID := c.Param("job_id")
	resp, ok := s.store.Get(jobID)
	if !ok {
		s.abort(c, http.StatusNotFound, ErrJobNotFound.With(jobID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"strategies": strategies.Kinds(),
		"defaults":   s.opts.Strategy,
	})
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"version":        s.opts.Version,
		"engine_version": engine.EngineVersion,
		"jobs":           s.store.Len(),
	})
}
