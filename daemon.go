// Package sipd wires the active-recording daemon's components together
// per SPEC_FULL.md §2: configuration, logging, the call registry and
// its reaper, the RTP engine client, the worker pool, and the UDP
// router. Grounded on emiago-sipgo/cmd/proxysip/main.go's top-level
// wiring shape (build UA/server, register handlers, ListenAndServe on
// a cancellable context), generalized from a single-process SIP
// library entrypoint into this daemon's fixed pipeline.
package sipd

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/initbar/sipd/internal/config"
	"github.com/initbar/sipd/internal/metrics"
	"github.com/initbar/sipd/internal/siplog"
	"github.com/initbar/sipd/registry"
	"github.com/initbar/sipd/rtpclient"
	"github.com/initbar/sipd/sip"
	"github.com/initbar/sipd/transport"
	"github.com/initbar/sipd/worker"
)

// Daemon owns every long-lived component of the recording pipeline.
type Daemon struct {
	cfg *config.Config
	log zerolog.Logger

	registry *registry.Registry
	rtp      *rtpclient.Client
	pool     *worker.Pool
	router   *transport.UDPRouter
}

// New builds a Daemon from cfg but starts nothing yet; call Run to
// start serving.
func New(cfg *config.Config) *Daemon {
	log := siplog.New(cfg.Log)

	host := cfg.ResolveServerAddress()
	contact := fmt.Sprintf("<sip:%s:5060;transport=udp>", host)

	rtp := rtpclient.New(
		cfg.RTP.Handlers,
		host,
		cfg.RTP.Timeout,
		rtpclient.WithLogger(log.With().Str("component", "rtpclient").Logger()),
	)

	reg := registry.New(
		rtp,
		cfg.GC.LoopInterval,
		cfg.GC.CallLifetime,
		registry.WithLogger(log.With().Str("component", "registry").Logger()),
	)

	parser := sip.NewParser()

	n := cfg.WorkerCount(runtime.NumCPU())
	pool := worker.New(
		n, parser, reg, rtp,
		cfg.Headers(), contact, cfg.RTP.MaxRetry,
		worker.WithLogger(log.With().Str("component", "worker").Logger()),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := transport.New(
		addr, pool,
		transport.WithLogger(log.With().Str("component", "transport").Logger()),
		transport.WithLoopInterval(cfg.GC.LoopInterval),
	)

	return &Daemon{
		cfg:      cfg,
		log:      log,
		registry: reg,
		rtp:      rtp,
		pool:     pool,
		router:   router,
	}
}

// Logger returns the daemon's configured logger, for use by the
// command-line entrypoint before and after Run.
func (d *Daemon) Logger() zerolog.Logger {
	return d.log
}

// Run starts the reaper, the worker pool, the optional metrics
// listener, and the UDP router, blocking until ctx is cancelled or the
// router fails. The reaper and the worker pool are stopped before Run
// returns; the metrics listener, when started, is not stopped.
func (d *Daemon) Run(ctx context.Context) error {
	d.registry.Run()
	defer d.registry.Stop()

	d.pool.Run()
	defer d.pool.Stop()

	if d.cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.Serve(d.cfg.Metrics.Address); err != nil {
				d.log.Error().Err(err).Msg("sipd: metrics listener exited")
			}
		}()
	}

	d.log.Info().
		Str("addr", fmt.Sprintf("%s:%d", d.cfg.Server.Host, d.cfg.Server.Port)).
		Int("workers", d.cfg.WorkerCount(runtime.NumCPU())).
		Msg("sipd: starting")

	return d.router.ListenAndServe(ctx)
}
