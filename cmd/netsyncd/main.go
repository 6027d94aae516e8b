// Command netsyncd runs a small authoritative demo world: every client gets
// an avatar it steers with a command, and a handful of wanderers roam the
// map under the configured interest policy.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/QYUbit/netsync/pkg/config"
	"github.com/QYUbit/netsync/pkg/interest"
	"github.com/QYUbit/netsync/pkg/metrics"
	"github.com/QYUbit/netsync/pkg/netlog"
	"github.com/QYUbit/netsync/pkg/netlog/zerologadapter"
	"github.com/QYUbit/netsync/pkg/replica"
	"github.com/QYUbit/netsync/pkg/server"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/transport/quic"
	websockets "github.com/QYUbit/netsync/pkg/transport/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type flags struct {
	certFile   string
	keyFile    string
	interest   string
	statusAddr string
	wanderers  int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "netsyncd:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("netsyncd", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	var f flags
	fs.StringVar(&f.certFile, "tls-cert", "", "TLS certificate for quic, a self signed one is generated when empty")
	fs.StringVar(&f.keyFile, "tls-key", "", "TLS key for quic")
	fs.StringVar(&f.interest, "interest", "grid", "interest policy: grid, distance or none")
	fs.StringVar(&f.statusAddr, "status", "", "address of the status endpoint, the websocket listener serves it when empty")
	fs.IntVar(&f.wanderers, "wanderers", 16, "number of wandering npcs")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.Nop
	if cfg.StatsdAddress != "" {
		sd, err := metrics.NewStatsd(cfg.StatsdAddress, []string{"service:netsyncd"}, log)
		if err != nil {
			return err
		}
		defer sd.Close()
		rec = sd
	}

	tr, mux, err := newTransport(cfg, f)
	if err != nil {
		return err
	}

	policy, err := newPolicy(f.interest)
	if err != nil {
		return err
	}

	w := newWorld(log.With("component", "world"))

	opts := server.OptionsFromConfig(cfg)
	opts.Transport = tr
	opts.Logger = log.With("component", "server")
	opts.Metrics = rec
	opts.RemoteCalls = w.calls
	opts.Policy = policy
	opts.OnAddPlayer = w.addPlayer
	opts.OnConnect = func(conn *replica.Connection) {
		w.status.connected(conn.ID())
	}
	opts.OnDisconnect = func(conn *replica.Connection) {
		w.status.disconnected(conn.ID())
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		return err
	}
	w.srv = srv

	mux.Handle("/status", w.status)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop(ctx, srv, w, cfg.TickRate, f.wanderers)
	})

	addr := f.statusAddr
	if addr == "" && cfg.Transport == "websocket" {
		addr = cfg.ListenAddress
	}
	if addr != "" {
		httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("http listening", "address", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "http server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("exiting")
	return err
}

// loop owns the server: every update phase and every world change runs on
// this goroutine.
func loop(ctx context.Context, srv *server.Server, w *world, tickRate, wanderers int) error {
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			w.log.Warn("failed to close server", "error", err)
		}
	}()

	if err := w.populate(wanderers); err != nil {
		return err
	}

	interval := time.Second / time.Duration(tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("shutdown initiated")
			return ctx.Err()
		case <-ticker.C:
			srv.EarlyUpdate()
			w.update(interval.Seconds())
			srv.LateUpdate()
			w.status.observe(srv)
		}
	}
}

func newLogger(cfg config.Config) (netlog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, eris.Wrapf(err, "log level %q", cfg.LogLevel)
	}

	logger := zerolog.New(os.Stdout)
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	logger = logger.Level(level).With().Timestamp().Str("service", "netsyncd").Logger()
	return zerologadapter.New(logger), nil
}

// newTransport builds the configured transport and the mux status
// endpoints hang off. The websocket transport is mounted on that mux.
func newTransport(cfg config.Config, f flags) (transport.Transport, *http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	switch cfg.Transport {
	case "quic":
		tlsConf, err := loadTLS(f.certFile, f.keyFile)
		if err != nil {
			return nil, nil, err
		}
		return quic.NewQuicTransport(cfg.ListenAddress, tlsConf, nil), mux, nil
	case "websocket":
		ws := websockets.NewTransport("", "/ws")
		mux.Handle("/ws", ws)
		return ws, mux, nil
	}
	return nil, nil, eris.Errorf("unknown transport %q", cfg.Transport)
}

func newPolicy(name string) (replica.Policy, error) {
	switch name {
	case "grid":
		return interest.NewGrid(worldSize/8, 500*time.Millisecond), nil
	case "distance":
		return interest.NewDistance(worldSize/4, 500*time.Millisecond), nil
	case "none", "":
		return nil, nil
	}
	return nil, eris.Errorf("unknown interest policy %q", name)
}
