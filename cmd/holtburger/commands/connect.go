package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/merklejerk/holtburger/internal/config"
	"github.com/merklejerk/holtburger/internal/message"
	netmetrics "github.com/merklejerk/holtburger/internal/metrics"
	"github.com/merklejerk/holtburger/internal/netio"
	"github.com/merklejerk/holtburger/internal/session"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain during graceful shutdown.
const shutdownTimeout = 5 * time.Second

// connectCmd runs the headless client until interrupted.
func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect to a server and run the session until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runClient(cfg)
		},
	}
}

// runClient wires the stack together: logger, metrics, transport,
// session, and the optional metrics endpoint, all under one errgroup
// with a signal-aware context.
func runClient(cfg *config.Config) error {
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	peer, err := cfg.ServerAddr()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := netmetrics.NewCollector(reg)

	sock, err := netio.ListenUDP()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("connecting",
		slog.String("server", peer.String()),
		slog.String("account", cfg.Login.Account),
	)

	conn, err := session.Dial(ctx, sock, peer,
		session.Credentials{
			Account:       cfg.Login.Account,
			Password:      cfg.Login.Password,
			ClientVersion: cfg.Login.ClientVersion,
		},
		session.WithLogger(logger),
		session.WithMetrics(collector),
		session.WithTiming(timingFrom(cfg.Net)),
	)
	if err != nil {
		_ = sock.Close()
		return err
	}

	registerHandlers(conn, logger)
	conn.Events(func(ev session.SessionEvent) { logEvent(logger, ev) })

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics, reg, logger) })
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
			conn.Disconnect()
			return nil
		case <-conn.Done():
			return session.ErrSessionClosed
		}
	})

	err = g.Wait()
	if errors.Is(err, session.ErrSessionClosed) {
		logger.Info("session ended")
		return nil
	}
	return err
}

// timingFrom maps the config's timer overrides onto the session's
// timing block; zero fields keep the protocol defaults.
func timingFrom(nc config.NetConfig) session.Timing {
	return session.Timing{
		AckInterval:         nc.AckInterval,
		KeepAliveInterval:   nc.KeepAliveInterval,
		RetransmitThreshold: nc.RetransmitThreshold,
		InactivityTimeout:   nc.InactivityTimeout,
		HandshakeTimeout:    nc.HandshakeTimeout,
		EchoInterval:        session.DefaultTiming().EchoInterval,
	}
}

// registerHandlers subscribes the decoders the core understands and a
// fallback that logs everything else opaquely.
func registerHandlers(conn *session.Conn, logger *slog.Logger) {
	conn.OnMessage(message.OpcodeEntityCreate, message.DecodeEntityCreate,
		func(msg session.Message, err error) {
			if err != nil {
				logger.Warn("bad entity create", slog.String("error", err.Error()))
				return
			}
			ec := msg.Decoded.(*message.EntityCreate)
			logger.Info("entity created",
				slog.String("name", ec.Name),
				slog.Uint64("object_id", uint64(ec.ObjectID)),
			)
		})

	conn.OnMessage(message.OpcodePlayerDescription, message.DecodePlayerDescription,
		func(msg session.Message, err error) {
			if err != nil {
				logger.Warn("bad player description", slog.String("error", err.Error()))
				return
			}
			pd := msg.Decoded.(*message.PlayerDescription)
			logger.Info("player description",
				slog.String("name", pd.Name),
				slog.Int("int_properties", len(pd.Ints)),
			)
		})

	conn.OnMessage(message.OpcodePositionUpdate, message.DecodePositionUpdate,
		func(msg session.Message, err error) {
			if err != nil {
				logger.Warn("bad position update", slog.String("error", err.Error()))
				return
			}
			pu := msg.Decoded.(*message.PositionUpdate)
			logger.Debug("position update",
				slog.Uint64("object_id", uint64(pu.ObjectID)),
				slog.Uint64("cell", uint64(pu.Position.Cell)),
			)
		})

	conn.OnDefault(func(msg session.Message, _ error) {
		logger.Debug("message",
			slog.String("opcode", fmt.Sprintf("%#08x", msg.Opcode)),
			slog.Int("len", len(msg.Body)),
			slog.Uint64("queue", uint64(msg.Queue)),
		)
	})
}

// logEvent reports one session event at an appropriate level.
func logEvent(logger *slog.Logger, ev session.SessionEvent) {
	switch ev.Kind {
	case session.EventConnected:
		logger.Info("connected")
	case session.EventTimeSyncApplied:
		logger.Debug("time sync", slog.Float64("server_time", ev.ServerTime))
	case session.EventEchoRoundTripMeasured:
		logger.Debug("echo round trip", slog.Duration("rtt", ev.RoundTrip))
	case session.EventPeerRequestedRetransmit:
		logger.Info("peer requested retransmit", slog.Int("count", len(ev.Sequences)))
	case session.EventDisconnected:
		logger.Info("disconnected", slog.String("reason", ev.Reason.String()))
	}
}

// serveMetrics runs the Prometheus endpoint until the context ends.
func serveMetrics(ctx context.Context, mc config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(mc.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              mc.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics endpoint up", slog.String("addr", mc.Addr), slog.String("path", mc.Path))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// newLogger builds the structured logger from the log configuration.
func newLogger(lc config.LogConfig) *slog.Logger {
	level := config.ParseLogLevel(lc.Level)
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
