package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	flag "github.com/spf13/pflag"

	"ontime/internal/app"
	"ontime/internal/config"
	"ontime/internal/history"
	appLog "ontime/internal/log"
	"ontime/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dump       bool
	debug      bool
}

func main() {
	if err := run(parseFlags()); err != nil {
		appLog.Error("ontimed failed", err)
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVarP(&cfg.configPath, "config", "c", "/etc/ontime/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Print the next occurrence of every schedule and exit")
	flag.BoolVar(&cfg.dump, "dump", false, "Log the configuration of every schedule and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()
	return cfg
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetOutput(os.Stderr, conf.Log.Format)
	level := appLog.ParseLevel(conf.Log.Level)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Info("ontimed starting",
		"version", version,
		"config_path", flags.configPath,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"schedules", len(conf.Schedules),
		"history", conf.History.Path,
	)

	// One-shot modes leave the history database alone.
	hist := history.Store(history.Nop{})
	if !flags.once && !flags.dump {
		hist, err = history.Open(conf.History.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
	}
	defer func() {
		if err := hist.Close(); err != nil {
			appLog.Error("failed to close history", err)
		}
	}()

	d, err := app.New(app.Options{Config: conf, History: hist})
	if err != nil {
		return err
	}
	if err := d.Setup(); err != nil {
		return err
	}

	switch {
	case flags.dump:
		d.DumpConfig()
		return nil
	case flags.once:
		printNext(d)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d.Start(ctx)

	watcher := config.NewWatcher(flags.configPath, d.ApplyConfig)
	watcher.Prime(conf)
	go func() {
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("config watcher stopped", err)
		}
	}()

	serverErr := make(chan error, 1)
	if conf.Listen != "" {
		srv := web.NewServer(conf, d, hist, d.Clock())
		go func() { serverErr <- srv.Run(ctx, conf.Listen, nil) }()
	}

	notify(sddaemon.SdNotifyReady)

	var runErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case runErr = <-serverErr:
		if runErr != nil {
			appLog.Error("http server stopped", runErr)
		}
	}
	stop()

	notify(sddaemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		appLog.Error("scheduler did not stop cleanly", err)
	}
	appLog.Info("ontimed exiting")
	return runErr
}

func printNext(d *app.Daemon) {
	for _, in := range d.Instances() {
		next, ok := in.Engine.NextSchedule()
		if !ok {
			fmt.Printf("%s\t%s\t-\n", in.ID, in.Engine.State())
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", in.ID, in.Engine.State(), next.Format(time.RFC3339))
	}
}

// notify reports service state to systemd. Outside a unit it is a no-op.
func notify(state string) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		appLog.Warn("sd_notify failed", "state", state, "err", err.Error())
		return
	}
	if sent {
		appLog.Debug("sd_notify sent", "state", state)
	}
}
