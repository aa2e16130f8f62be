package clock

import (
	"log/slog"
	"sync"
	"time"

	mcp "github.com/MegaGrindStone/go-mcp-clock"
)

// Server implements a Model Context Protocol (MCP) server that tells the current time in
// the timezone of the session and lets clients browse the timezones of the platform by
// continent.
//
// It provides the current_time tool, the timezones://continents resource and the
// timezones://continents/{continent} resource template, and streams its own activity to
// clients as MCP log notifications.
//
// Callers must call Close when finished, before shutting down the mcp.Server that hosts
// it, so the log stream ends.
type Server struct {
	clock           Clock
	catalog         Catalog
	defaultTimezone string
	logger          *slog.Logger

	zones ZoneLister
	now   func() time.Time

	logLock  sync.RWMutex
	logLevel mcp.LogLevel
	logs     chan mcp.LogParams

	done      chan struct{}
	closeOnce sync.Once
}

// Option represents the options for the clock server.
type Option func(*Server)

const (
	// DefaultTimezone is used when neither the tool arguments nor the session name a timezone.
	DefaultTimezone = utcZone

	logBufferSize = 32
	loggerName    = "clock"
)

// NewServer creates a clock server. Without options it reads the zoneinfo database of the
// host, uses the system clock and defaults sessions to UTC.
func NewServer(options ...Option) *Server {
	s := &Server{
		defaultTimezone: DefaultTimezone,
		logger:          slog.Default(),
		logLevel:        mcp.LogLevelInfo,
		logs:            make(chan mcp.LogParams, logBufferSize),
		done:            make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.zones == nil {
		s.zones = PlatformZones()
	}

	s.clock = NewClock(s.zones, s.now)
	s.catalog = NewCatalog(s.zones)

	return s
}

// WithZoneLister sets the source of timezone identifiers.
func WithZoneLister(zones ZoneLister) Option {
	return func(s *Server) {
		s.zones = zones
	}
}

// WithNow sets the function that reads the current time.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithDefaultTimezone sets the timezone of sessions that don't configure one.
func WithDefaultTimezone(timezone string) Option {
	return func(s *Server) {
		if timezone != "" {
			s.defaultTimezone = timezone
		}
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "clock"),
		)
	}
}

// Close stops the log stream. It is safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
