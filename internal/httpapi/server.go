// Package httpapi serves the read API over the in-memory snapshot and
// the token-guarded ingest endpoint.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"certmarket/internal/db"
	"certmarket/internal/ingest"
	"certmarket/internal/listing"
	"certmarket/internal/view"
)

// Database is the subset of db.Pool the API reads directly, bypassing
// the snapshot: raw-store lookups and store-level statistics.
type Database interface {
	FindRecordsByCertificate(ctx context.Context, tag string, limit int) ([]listing.Record, error)
	FindRecordsByGroup(ctx context.Context, groupID string, limit int) ([]listing.Record, error)
	FindRecordByMessageID(ctx context.Context, messageID string) (listing.Record, error)
	QueryListingStats(ctx context.Context) (*db.ListingStats, error)
	QueryRawMessageStats(ctx context.Context) (*db.RawMessageStats, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// CORSAllowedOrigins restricts cross-origin reads; empty means any.
	CORSAllowedOrigins []string

	// IngestTokenHash is the bcrypt hash guarding POST /api/v1/listings.
	// When empty the write endpoints are not registered at all.
	IngestTokenHash string

	SearchDefaultLimit int
	SearchMaxLimit     int
	TrendingMinSupport int
	TrendingTagLimit   int
	TagSuggestionLimit int

	// TagMaxLimit caps the caller-supplied limit on GET /tags in both
	// modes, independently of the per-mode defaults.
	TagMaxLimit int
}

type Server struct {
	database Database
	store    *view.Store
	ingester *ingest.Service
	logger   zerolog.Logger
	opts     Options
}

func NewServer(database Database, store *view.Store, ingester *ingest.Service, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	searchDefaultLimit := opts.SearchDefaultLimit
	if searchDefaultLimit <= 0 {
		searchDefaultLimit = 50
	}
	searchMaxLimit := opts.SearchMaxLimit
	if searchMaxLimit < searchDefaultLimit {
		searchMaxLimit = 500
	}
	trendingMinSupport := opts.TrendingMinSupport
	if trendingMinSupport <= 0 {
		trendingMinSupport = 5
	}
	trendingTagLimit := opts.TrendingTagLimit
	if trendingTagLimit <= 0 {
		trendingTagLimit = 50
	}
	tagSuggestionLimit := opts.TagSuggestionLimit
	if tagSuggestionLimit <= 0 {
		tagSuggestionLimit = 20
	}
	tagMaxLimit := opts.TagMaxLimit
	if tagMaxLimit < trendingTagLimit || tagMaxLimit < tagSuggestionLimit {
		// The cap never sits below either mode default.
		tagMaxLimit = 200
		if tagMaxLimit < trendingTagLimit {
			tagMaxLimit = trendingTagLimit
		}
		if tagMaxLimit < tagSuggestionLimit {
			tagMaxLimit = tagSuggestionLimit
		}
	}

	return &Server{
		database: database,
		store:    store,
		ingester: ingester,
		logger:   logger,
		opts: Options{
			Host:               host,
			Port:               port,
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			ShutdownTimeout:    shutdownTimeout,
			CORSAllowedOrigins: opts.CORSAllowedOrigins,
			IngestTokenHash:    opts.IngestTokenHash,
			SearchDefaultLimit: searchDefaultLimit,
			SearchMaxLimit:     searchMaxLimit,
			TrendingMinSupport: trendingMinSupport,
			TrendingTagLimit:   trendingTagLimit,
			TagSuggestionLimit: tagSuggestionLimit,
			TagMaxLimit:        tagMaxLimit,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("certmarket API server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("certmarket API server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	allowOrigins := s.opts.CORSAllowedOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/search", s.handleSearch)
	api.GET("/tags", s.handleTags)
	api.GET("/matching/aggregate", s.handleMatchingAggregate)
	api.GET("/matching/demand/:listing_id", s.handleMatchingDemand)
	api.GET("/listings/by-message/:message_id", s.handleListingByMessage)
	api.GET("/listings/by-group/:group_id", s.handleListingsByGroup)
	api.GET("/listings/by-certificate/:tag", s.handleListingsByCertificate)
	api.GET("/stats", s.handleStats)

	if strings.TrimSpace(s.opts.IngestTokenHash) != "" {
		api.POST("/listings", s.handleIngestListings, s.requireIngestToken)
	}

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}
