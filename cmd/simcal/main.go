package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"simcal/internal/broadcast"
	"simcal/internal/calendar"
	"simcal/internal/clock"
	"simcal/internal/config"
	appLog "simcal/internal/log"
	"simcal/internal/notes"
	"simcal/internal/schedule"
	"simcal/internal/session"
	"simcal/internal/store"
	"simcal/internal/web"
)

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	hub        string
	clientID   string
	logLevel   string
	observer   bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyFlags(conf, flags)
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("simcal starting", "version", "0.1.0-dev")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"client_id", conf.ClientID,
		"data_dir", conf.DataDir,
		"hub_url", conf.Sync.HubURL,
		"observer", conf.Sync.Observer,
		"calendar", conf.Calendar.Name,
		"moon_count", len(conf.Moons),
		"game_time_ratio", conf.Clock.GameTimeRatio,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf); err != nil {
		appLog.Error("simcal failed", err)
		os.Exit(1)
	}
	appLog.Info("simcal exiting")
}

func run(ctx context.Context, conf *config.Config) error {
	// A rejected definition is reported and replaced by Gregorian.
	cal, _ := calendar.Load(conf.Calendar)

	var (
		transport  broadcast.Transport
		hubHandler http.Handler
		closeTr    func() error
	)
	if conf.Sync.HubURL != "" {
		dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
		client, err := broadcast.Dial(dialCtx, conf.Sync.HubURL)
		cancelDial()
		if err != nil {
			return err
		}
		appLog.Info("joined hosted session", "hub_url", conf.Sync.HubURL)
		transport, closeTr = client, client.Close
	} else {
		hub := broadcast.NewHub()
		transport, hubHandler, closeTr = hub, hub, hub.Close
	}

	sched := schedule.NewCron()
	host := &clock.HostFlag{}

	sess, err := session.New(session.Options{
		ClientID:  conf.ClientID,
		Calendar:  cal,
		Moons:     conf.Moons,
		Scheduler: sched,
		Transport: transport,
		NoteStore: store.OpenNotes(conf.NotesDir()),
		Clock: clock.Config{
			Store:           store.NewClockFile(conf.ClockFile()),
			Host:            host,
			UpdateFrequency: conf.Clock.UpdateFrequency,
			GameTimeRatio:   conf.Clock.GameTimeRatio,
			UnifyPause:      conf.Clock.UnifyPause,
			Initial:         conf.Clock.Initial,
		},
		Election: conf.Sync.Election(),
	})
	if sess == nil {
		_ = closeTr()
		return err
	}
	if err != nil {
		appLog.Error("session started with errors", err)
	}

	sess.OnNoteTriggered().Subscribe(func(f notes.Fired) {
		appLog.Info("reminder", "note", f.NoteID, "title", f.Title, "at", sess.FormatDate(f.At, ""))
	})
	sess.OnWarning().Subscribe(func(w clock.Warning) {
		appLog.Warn(w.Message, "since", w.Since.Format(time.RFC3339))
	})
	sess.Elector().Roles().Subscribe(func(r clock.Role) {
		appLog.Info("election role changed", "role", r.String())
	})

	if conf.Clock.Autostart {
		if err := sess.Start(conf.Clock.Resume); err != nil {
			appLog.Error("clock start failed", err)
		}
	} else {
		// Without autostart the client still joins the election so it can
		// follow a leader.
		sess.Elector().Run()
	}

	srv := web.NewServer(conf, sess, hubHandler, host)
	srvErr := web.StartServer(ctx, conf, srv)
	if srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
		appLog.Error("HTTP server stopped", srvErr)
	}

	srv.Close()
	sess.Close()
	if err := closeTr(); err != nil {
		appLog.Debug("transport close", "err", err.Error())
	}
	<-sched.Stop().Done()
	return srvErr
}

func applyFlags(conf *config.Config, f flagConfig) {
	if f.listen != "" {
		conf.Listen = f.listen
	}
	if f.hub != "" {
		conf.Sync.HubURL = f.hub
	}
	if f.clientID != "" {
		conf.ClientID = f.clientID
	}
	if f.logLevel != "" {
		conf.LogLevel = f.logLevel
	}
	if f.observer {
		conf.Sync.Observer = true
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	pflag.StringVarP(&cfg.configPath, "config", "c", "./simcal.yaml", "Path to config file")
	pflag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	pflag.StringVar(&cfg.hub, "hub", "", "Join the session hosted at this ws:// URL instead of hosting one")
	pflag.StringVar(&cfg.clientID, "client-id", "", "Client id (overrides config if set)")
	pflag.StringVar(&cfg.logLevel, "log-level", "", "debug, info, warn or error")
	pflag.BoolVar(&cfg.observer, "observer", false, "Never claim leadership")

	pflag.Parse()

	return cfg
}
