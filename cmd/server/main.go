package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jd_buyer/internal/config"
	"jd_buyer/internal/httpapi"
	"jd_buyer/internal/logbus"
	"jd_buyer/internal/monitor"
	"jd_buyer/internal/notify"
	"jd_buyer/internal/session"
	"jd_buyer/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bus := logbus.New(200)
	bus.Log("info", "server starting", map[string]any{"addr": cfg.Server.Addr})

	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	sess, err := session.New(session.Options{
		Config: cfg.Session,
		Store:  store,
		Bus:    bus,
	})
	if err != nil {
		log.Fatalf("init session: %v", err)
	}

	emailNotifier := notify.NewEmailNotifier(store, bus)
	notifier := notify.Multi{
		notify.NewOrderRecorder(store, bus),
		emailNotifier,
		notify.NewServerChanNotifier(store, bus),
	}

	sup := monitor.NewSupervisor(monitor.SupervisorOptions{
		Session:  sess,
		Bus:      bus,
		Notifier: notifier,
		Ticket: monitor.TicketOptions{
			MaxAttempts:       cfg.Login.TicketMaxAttempts,
			PollInterval:      cfg.Login.TicketInterval(),
			KeepaliveInterval: cfg.Login.KeepaliveInterval(),
		},
		Buyer: monitor.BuyerOptions{
			SubmitRetry:    cfg.Task.SubmitRetry,
			SubmitInterval: cfg.Task.SubmitInterval(),
			MaxIterations:  cfg.Task.MaxIterations,
			MaxDuration:    cfg.Task.MaxDuration(),
		},
	})

	api := httpapi.New(httpapi.Options{
		Cfg:        cfg,
		Bus:        bus,
		Store:      store,
		Session:    sess,
		Supervisor: sup,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		bus.Log("info", "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			bus.Log("error", "http server error", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = sup.Close(shutdownCtx)
	_ = server.Shutdown(shutdownCtx)
	_ = emailNotifier.Close(shutdownCtx)
	bus.Log("info", "server stopped", nil)
}
