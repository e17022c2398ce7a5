// Command corepoold runs one multi-daemon-redundant Stratum mining pool
// core for a Bitcoin-family coin: it polls getblocktemplate, builds and
// broadcasts mining.notify jobs, validates submitted shares, and submits
// any that turn out to be full blocks.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	debugpkg "runtime/debug"
	"syscall"
	"time"

	"github.com/rodb2008/corepool/bus"
	"github.com/rodb2008/corepool/daemon"
	"github.com/rodb2008/corepool/internal/corelog"
	"github.com/rodb2008/corepool/job"
	"github.com/rodb2008/corepool/poolcfg"
	"github.com/rodb2008/corepool/stratum"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			if f, err := os.OpenFile("panic.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				fmt.Fprintf(f, "[%s] panic: %v\n%s\n\n", time.Now().UTC().Format(time.RFC3339), r, debugpkg.Stack())
			}
		}
	}()

	configPath := flag.String("config", "corepoold.toml", "path to the pool configuration file")
	logLevelFlag := flag.String("log-level", "", "override logging.level from the config file")
	stdoutFlag := flag.Bool("stdout", true, "mirror structured logs to stdout")
	flag.Parse()

	cfg, err := poolcfg.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "corepoold:", err)
		os.Exit(1)
	}

	levelName := cfg.Logging.Level
	if *logLevelFlag != "" {
		levelName = *logLevelFlag
	}
	level, err := parseLogLevel(levelName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "corepoold:", err)
		os.Exit(1)
	}
	var out io.Writer = io.Discard
	if *stdoutFlag {
		out = os.Stdout
	}
	log := corelog.New(out, level)
	defer log.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fatal startup error", "error", err)
		log.Stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *poolcfg.Config, log *corelog.Logger) error {
	daemonClient, err := daemon.New(log, cfg.Endpoints()...)
	if err != nil {
		return fmt.Errorf("daemon client: %w", err)
	}
	stopCookieWatcher := daemonClient.StartCookieWatcher(10 * time.Second)
	defer stopCookieWatcher()

	builder, err := cfg.Builder()
	if err != nil {
		return err
	}

	manager := job.New(daemonClient, builder, cfg.ManagerConfig(), log)

	eventBus, sinks := buildBus(cfg, log)
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()

	serverCfg, err := cfg.ServerConfig()
	if err != nil {
		return err
	}

	bans := stratum.NewBanManager()
	handler := newPoolHandler(manager, cfg.Pool.ID, cfg.Mining.ExtraNonce2Size, eventBus, log)
	server := stratum.New(serverCfg, handler, bans, log)

	log.Info("starting corepoold", "pool_id", cfg.Pool.ID, "coin", cfg.Pool.Coin, "network", cfg.Pool.Network, "listen", cfg.Stratum.ListenAddrs)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("job manager start: %w", err)
	}

	jobs, unsubscribe := manager.Jobs()
	defer unsubscribe()
	go relayJobs(ctx, jobs, server, eventBus, log)
	go logUptime(ctx, time.Now(), 15*time.Minute, eventBus, log)

	return server.Serve(ctx)
}

// relayJobs forwards every job.Notification the manager produces to the
// stratum server's connection fanout, and mirrors it onto the bus for
// external observers.
func relayJobs(ctx context.Context, jobs <-chan job.Notification, server *stratum.Server, b *bus.Bus, log *corelog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-jobs:
			if !ok {
				return
			}
			server.BroadcastJob(n)
			if b != nil {
				b.PublishJobBroadcast(bus.JobBroadcastEvent{
					JobID:     n.Job.ID,
					CleanJobs: n.CleanJobs,
					Height:    n.Job.Template.Height(),
					Timestamp: time.Now(),
				})
			}
			log.Debug("job broadcast", "job_id", n.Job.ID, "clean_jobs", n.CleanJobs)
		}
	}
}

type closer interface {
	Close()
}

// buildBus wires the optional ZMQ PUB and audit-log sinks configured
// under [bus]. A Config with neither set still returns a usable Bus with
// no sinks, matching the bus package's fire-and-forget, no-subscriber
// default.
func buildBus(cfg *poolcfg.Config, log *corelog.Logger) (*bus.Bus, []closer) {
	b := bus.New(log)
	var sinks []closer

	if cfg.Bus.ZMQPubAddr != "" {
		sink, err := bus.NewZMQSink(cfg.Bus.ZMQPubAddr, log)
		if err != nil {
			log.Warn("zmq sink disabled", "addr", cfg.Bus.ZMQPubAddr, "error", err)
		} else {
			b.AddSink(sink)
			sinks = append(sinks, sink)
		}
	}
	if cfg.Bus.AuditLogDir != "" {
		sink, err := bus.NewAuditLog(cfg.Bus.AuditLogDir, log)
		if err != nil {
			log.Warn("audit log sink disabled", "dir", cfg.Bus.AuditLogDir, "error", err)
		} else {
			b.AddSink(sink)
			sinks = append(sinks, sink)
		}
	}
	return b, sinks
}

func parseLogLevel(name string) (corelog.Level, error) {
	switch name {
	case "debug":
		return corelog.LevelDebug, nil
	case "", "info":
		return corelog.LevelInfo, nil
	case "warn", "warning":
		return corelog.LevelWarn, nil
	case "error":
		return corelog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
