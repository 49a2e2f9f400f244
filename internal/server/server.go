package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"savesync/internal/saves"
)

const (
	allowRemoteEnvKey = "SAVESYNC_ALLOW_REMOTE"
	readHeaderTimeout = 5 * time.Second
	// Uploads and downloads stream whole save files, so body timeouts are
	// generous and bounded by the upload size cap instead.
	readTimeout     = 10 * time.Minute
	writeTimeout    = 10 * time.Minute
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 15 * time.Second

	defaultMaxUploadBytes       = 256 << 20 // 256 MiB
	defaultMaxConcurrentUploads = 16
)

// Options tunes transport limits.
type Options struct {
	MaxUploadBytes       int64
	MaxConcurrentUploads int
}

// Server exposes the save service over HTTP.
type Server struct {
	addr           string
	saves          *saves.Service
	logger         *slog.Logger
	maxUploadBytes int64
	uploadLimiter  chan struct{}
}

// New creates a new server instance.
func New(addr string, svc *saves.Service, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.MaxConcurrentUploads <= 0 {
		opts.MaxConcurrentUploads = defaultMaxConcurrentUploads
	}

	return &Server{
		addr:           addr,
		saves:          svc,
		logger:         logger,
		maxUploadBytes: opts.MaxUploadBytes,
		uploadLimiter:  make(chan struct{}, opts.MaxConcurrentUploads),
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// ListenAndServe starts the HTTP server and shuts it down gracefully when ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests. Request contexts are not derived from ctx, so a
// shutdown lets running uploads finish instead of aborting them.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log().Info("starting server", "addr", ln.Addr().String())
	server := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAddr converts a configured listen address or base URL into a listen
// address. Non-loopback hosts are refused unless SAVESYNC_ALLOW_REMOTE=true.
func ListenAddr(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("listen address is required")
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(raw)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return raw, nil
}

func isAllowedListenHost(host string) bool {
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) acquireLimiter(limiter chan struct{}, w http.ResponseWriter, r *http.Request, name string) bool {
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	default:
		err := apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many concurrent %s requests", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) releaseLimiter(limiter chan struct{}) {
	if limiter == nil {
		return
	}
	select {
	case <-limiter:
	default:
	}
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
