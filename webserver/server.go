package webserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"dqx0.com/go/webd/httpx"
	"dqx0.com/go/webd/internal/obs"
)

const (
	defaultRealm             = "webd"
	defaultMaxPostSize       = 20 << 20
	defaultConnectionTimeout = 10 * time.Second
	stopTimeout              = 5 * time.Second
)

// Config holds the settings of a Server. Zero values select defaults.
type Config struct {
	// TLSCertFile and TLSKeyFile enable TLS when both files exist.
	TLSCertFile string
	TLSKeyFile  string
	Realm       string
	// MaxPostSize caps accepted POST bodies in bytes.
	MaxPostSize int64
	// ConnectionTimeout is the inactivity timeout of a connection.
	ConnectionTimeout time.Duration
	// MaxConns caps concurrent connections per listener; 0 is unlimited.
	MaxConns int

	Logger obs.Logger
	Meter  obs.Meter
	// Now is the clock used for Expires headers.
	Now func() time.Time
}

// Server dispatches HTTP requests to registered RequestHandlers. It owns the
// daemons listening for IPv4 and IPv6 connections.
type Server struct {
	cfg      Config
	handlers registry

	mu      sync.RWMutex
	creds   credentials
	daemons []*daemon
}

type daemon struct {
	srv *httpx.Server
	ln  net.Listener
	tls bool
	wg  sync.WaitGroup
}

func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) realm() string {
	if s.cfg.Realm != "" {
		return s.cfg.Realm
	}
	return defaultRealm
}

func (s *Server) maxPostSize() int64 {
	if s.cfg.MaxPostSize > 0 {
		return s.cfg.MaxPostSize
	}
	return defaultMaxPostSize
}

func (s *Server) connectionTimeout() time.Duration {
	if s.cfg.ConnectionTimeout > 0 {
		return s.cfg.ConnectionTimeout
	}
	return defaultConnectionTimeout
}

func (s *Server) now() time.Time {
	if s.cfg.Now != nil {
		return s.cfg.Now()
	}
	return time.Now()
}

func (s *Server) logger() obs.Logger { return obs.OrNop(s.cfg.Logger) }

func (s *Server) meter() obs.Meter { return obs.MeterOrNop(s.cfg.Meter) }

// RegisterRequestHandler adds a handler template.
func (s *Server) RegisterRequestHandler(h RequestHandler) error {
	return s.handlers.add(h)
}

// UnregisterRequestHandler removes a previously registered template and
// reports whether it was found.
func (s *Server) UnregisterRequestHandler(h RequestHandler) bool {
	return s.handlers.remove(h)
}

// Handlers returns the registered templates in dispatch order.
func (s *Server) Handlers() []RequestHandler {
	return s.handlers.list()
}

func (s *Server) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.daemons) > 0
}

// Addrs returns the bound listener addresses.
func (s *Server) Addrs() []net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]net.Addr, 0, len(s.daemons))
	for _, d := range s.daemons {
		addrs = append(addrs, d.ln.Addr())
	}
	return addrs
}

// Start binds port on IPv4 and, when the host supports it, on IPv6, and
// serves both until Stop. Port 0 picks a free port shared by both listeners.
// A failing IPv6 bind is logged and tolerated.
func (s *Server) Start(port int, user, pass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.daemons) > 0 {
		return ErrAlreadyStarted
	}
	s.creds = credentials{user: user, pass: pass}

	useTLS := fileExists(s.cfg.TLSCertFile) && fileExists(s.cfg.TLSKeyFile)
	ctx := context.Background()

	ln4, err4 := httpx.Listen(ctx, "tcp4", ":"+strconv.Itoa(port))
	if err4 == nil {
		port = ln4.Addr().(*net.TCPAddr).Port
	} else {
		s.logger().Logf(obs.Warn, "webserver: listen tcp4 port %d: %v", port, err4)
	}
	var ln6 net.Listener
	err6 := errors.New("ipv6 unsupported")
	if httpx.SupportsIPv6() {
		ln6, err6 = httpx.Listen(ctx, "tcp6", "[::]:"+strconv.Itoa(port))
		if err6 != nil {
			s.logger().Logf(obs.Warn, "webserver: listen tcp6 port %d: %v", port, err6)
		}
	}
	if err4 != nil && err6 != nil {
		return fmt.Errorf("%w: %v", ErrNoListener, err4)
	}

	for _, ln := range []net.Listener{ln4, ln6} {
		if ln == nil {
			continue
		}
		d := &daemon{
			ln:  ln,
			tls: useTLS,
			srv: &httpx.Server{
				Handler:     s,
				ConnTimeout: s.connectionTimeout(),
				MaxConns:    s.cfg.MaxConns,
				Logger:      s.cfg.Logger,
				Meter:       s.cfg.Meter,
			},
		}
		d.wg.Add(1)
		go s.serve(d)
		s.daemons = append(s.daemons, d)
		s.logger().Logf(obs.Info, "webserver: listening on %s (tls=%t)", ln.Addr(), useTLS)
	}
	return nil
}

func (s *Server) serve(d *daemon) {
	defer d.wg.Done()
	var err error
	if d.tls {
		err = d.srv.ServeTLS(d.ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = d.srv.Serve(d.ln)
	}
	if err != nil && !errors.Is(err, httpx.ErrServerClosed) {
		s.logger().Logf(obs.Error, "webserver: serve %s: %v", d.ln.Addr(), err)
	}
}

// Stop shuts all daemons down, waiting a bounded time for in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	daemons := s.daemons
	s.daemons = nil
	s.mu.Unlock()
	if len(daemons) == 0 {
		return ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	var errs []error
	for _, d := range daemons {
		if err := d.srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		d.wg.Wait()
	}
	s.logger().Logf(obs.Info, "webserver: stopped")
	return errors.Join(errs...)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
