package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dqx0.com/go/webd/internal/obs"
	"dqx0.com/go/webd/webserver"
	"dqx0.com/go/webd/webserver/handlers"
)

const version = "1.0.0"

func main() {
	var (
		port        = flag.Int("port", 8080, "TCP port for IPv4 and IPv6 listeners")
		user        = flag.String("user", envOr("WEBD_USER", "webd"), "Basic authentication user")
		password    = flag.String("password", os.Getenv("WEBD_PASSWORD"), "Basic authentication password; empty disables authentication")
		webRoot     = flag.String("web", "", "web interface directory")
		addonsDir   = flag.String("addons", "", "directory whose subdirectories are web interface add-ons")
		sources     = flag.String("sources", "", "comma separated source roots served below /vfs/ and /image/")
		certFile    = flag.String("cert", "", "TLS certificate file")
		keyFile     = flag.String("key", "", "TLS key file")
		maxPost     = flag.Int64("max-post", 0, "maximum POST body size in bytes (0 = default)")
		connTimeout = flag.Duration("conn-timeout", 0, "connection inactivity timeout (0 = default)")
		maxConns    = flag.Int("max-conns", 0, "maximum concurrent connections per listener (0 = unlimited)")
		debug       = flag.Bool("debug", false, "log every request")
	)
	flag.Parse()

	level := new(slog.LevelVar)
	if *debug {
		level.Set(slog.LevelDebug)
	}
	logger := obs.SlogLogger{L: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}

	srv := webserver.New(webserver.Config{
		TLSCertFile:       *certFile,
		TLSKeyFile:        *keyFile,
		MaxPostSize:       *maxPost,
		ConnectionTimeout: *connTimeout,
		MaxConns:          *maxConns,
		Logger:            logger,
	})

	roots := splitList(*sources)
	var addons handlers.AddonProvider = handlers.StaticAddons(nil)
	if *addonsDir != "" {
		addons = handlers.DirAddons(*addonsDir)
	}
	for _, h := range []webserver.RequestHandler{
		handlers.NewJSONRPCHandler(builtinMethods()),
		handlers.NewWebinterfaceAddonsHandler(addons),
		handlers.NewImageTransformationHandler(nil, roots...),
		handlers.NewImageHandler(roots...),
		handlers.NewVFSHandler(roots...),
		handlers.NewWebinterfaceHandler(*webRoot, addons),
	} {
		if err := srv.RegisterRequestHandler(h); err != nil {
			logger.Logf(obs.Error, "webd: register %T: %v", h, err)
			os.Exit(1)
		}
	}

	if err := srv.Start(*port, *user, *password); err != nil {
		logger.Logf(obs.Error, "webd: %v", err)
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	logger.Logf(obs.Info, "webd: received signal %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		logger.Logf(obs.Warn, "webd: shutdown: %v", err)
	}
}

func builtinMethods() handlers.Methods {
	started := time.Now()
	return handlers.Methods{
		"JSONRPC.Ping": func(context.Context, json.RawMessage) (any, error) {
			return "pong", nil
		},
		"JSONRPC.Version": func(context.Context, json.RawMessage) (any, error) {
			return map[string]string{"version": version}, nil
		},
		"System.Uptime": func(context.Context, json.RawMessage) (any, error) {
			return int64(time.Since(started).Seconds()), nil
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
