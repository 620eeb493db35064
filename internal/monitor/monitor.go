// Package monitor serves the watch-mode diagnostics API: health, the
// latest session summary as JSON, and prometheus metrics for fleet
// scrapers. One-shot runs never start it.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/internal/aggregate"
)

// Snapshot is the latest completed run in scraper-friendly units.
type Snapshot struct {
	SessionID  string    `json:"session_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	GeoBlocked bool      `json:"geo_blocked"`

	Probes    int `json:"probes"`
	Completed int `json:"completed"`
	TimedOut  int `json:"timed_out"`
	Rejected  int `json:"rejected"`
	Errored   int `json:"errored"`

	AvgTotalMs    float64 `json:"avg_total_ms"`
	MinTotalMs    float64 `json:"min_total_ms"`
	MedianTotalMs float64 `json:"median_total_ms"`
	MaxTotalMs    float64 `json:"max_total_ms"`

	FallbackMatches int `json:"fallback_matches"`
	SizeFallbacks   int `json:"size_fallbacks"`
}

// NewSnapshot converts one finished run into the served form.
func NewSnapshot(sessionID string, started, finished time.Time, geoBlocked bool, sum aggregate.Summary) Snapshot {
	return Snapshot{
		SessionID:       sessionID,
		StartedAt:       started,
		FinishedAt:      finished,
		GeoBlocked:      geoBlocked,
		Probes:          sum.Probes,
		Completed:       sum.Completed,
		TimedOut:        sum.TimedOut,
		Rejected:        sum.Rejected,
		Errored:         sum.Errored,
		AvgTotalMs:      millis(sum.AvgTotal),
		MinTotalMs:      millis(sum.MinTotal),
		MedianTotalMs:   millis(sum.MedianTotal),
		MaxTotalMs:      millis(sum.MaxTotal),
		FallbackMatches: sum.FallbackMatches,
		SizeFallbacks:   sum.SizeFallbacks,
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Server is the diagnostics HTTP server.
type Server struct {
	router *gin.Engine
	log    *zap.Logger

	mu     sync.RWMutex
	latest *Snapshot
	runs   int
}

// NewServer builds the router with the standard middleware stack.
func NewServer(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))
	router.Use(otelgin.Middleware("lighterprobe-monitor"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{router: router, log: log}
	router.GET("/healthz", s.health)
	router.GET("/summary", s.summary)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

// Record stores the latest finished run for /summary.
func (s *Server) Record(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &snap
	s.runs++
}

func (s *Server) health(c *gin.Context) {
	s.mu.RLock()
	runs := s.runs
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "runs": runs})
}

func (s *Server) summary(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no completed run yet"})
		return
	}
	c.JSON(http.StatusOK, s.latest)
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("monitor shutdown", zap.Error(err))
		}
	}()

	s.log.Info("diagnostics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
