// Package server exposes the dispatcher over HTTP: job submission, state
// and result downloads, history, health and a WebSocket job stream.
package server

import (
	"context"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/scribe/diagnostics"
	"github.com/teranos/scribe/history"
	"github.com/teranos/scribe/pulse/async"
)

// Dispatcher is the subset of pulse.Dispatcher the HTTP layer uses.
type Dispatcher interface {
	CreateJobFromUpload(ctx context.Context, filename string, data []byte) (string, error)
	CreateJobFromURL(ctx context.Context, rawURL string) (string, error)
	GetJobState(id string) (*async.Job, error)
	GetJobResult(id string) (string, error)
	ListJobs() []*async.Job
	History(ctx context.Context) ([]history.Record, error)
	Subscribe() <-chan *async.Job
	Unsubscribe(ch <-chan *async.Job)
	QueueDepth() int
	Metrics() async.SystemMetrics
}

// Options configures a Server.
type Options struct {
	Dispatcher Dispatcher

	// Checker and DiagnosticsSettings feed GET /health; a nil Checker
	// omits the diagnostics section.
	Checker             *diagnostics.Checker
	DiagnosticsSettings diagnostics.Settings

	MaxUploadBytes      int64 // default 500 MiB
	SubmitRatePerMinute int   // 0 = unlimited
	AllowedOrigins      []string

	Logger *zap.SugaredLogger
}

// DefaultMaxUploadBytes caps multipart uploads when Options leaves it unset
const DefaultMaxUploadBytes = 500 << 20

// Server serves the scribe HTTP API.
type Server struct {
	dispatcher     Dispatcher
	checker        *diagnostics.Checker
	diagSettings   diagnostics.Settings
	maxUploadBytes int64
	limiter        *rate.Limiter // nil = unlimited
	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *zap.SugaredLogger

	handler    http.Handler
	httpServer *http.Server

	clients        map[*Client]bool
	register       chan *Client
	unregister     chan *Client
	mu             sync.RWMutex
	broadcastDrops atomic.Int64

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	state     atomic.Int32
	startOnce sync.Once
}

// New builds a Server and starts its WebSocket hub.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		dispatcher:     opts.Dispatcher,
		checker:        opts.Checker,
		diagSettings:   opts.DiagnosticsSettings,
		maxUploadBytes: maxUpload,
		limiter:        newSubmitLimiter(opts.SubmitRatePerMinute),
		allowedOrigins: opts.AllowedOrigins,
		logger:         log.Named("server"),
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		ctx:            ctx,
		cancel:         cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.setupHTTPRoutes()
	s.startHub()
	return s
}

// newSubmitLimiter allows perMinute submissions per minute with a burst of
// the same size, so an idle client can submit a batch at once.
func newSubmitLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	every := time.Duration(math.Ceil(float64(time.Minute) / float64(perMinute)))
	return rate.NewLimiter(rate.Every(every), perMinute)
}

// Handler returns the HTTP handler with every route and middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(state ServerState) {
	s.state.Store(int32(state))
	s.logger.Infow("Server state changed", "new_state", stateString(state))
}

func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
