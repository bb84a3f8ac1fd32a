package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"kiosk/config"
	"kiosk/handlers"
	"kiosk/services"
	"kiosk/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	utils.Setup()

	if err := config.Load(); err != nil {
		log.Fatal(err)
	}

	if err := os.MkdirAll(config.Config.TransactionsDir, 0755); err != nil {
		log.Fatalf("Failed to create transactions directory: %v", err)
	}

	backend := services.NewThePayClient(config.GetBackendURL(), config.GetBackendToken())

	// Verify the backend is reachable before serving anything. A kiosk
	// that cannot confirm payments should not come up looking healthy.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	_, err := backend.PaymentStatus(ctx, "startup-probe")
	cancel()
	if err != nil {
		utils.Warn("main", "Backend probe failed; continuing, payments will fail until it recovers", "error", err)
	} else {
		utils.Info("main", "Backend reachable", "url", config.GetBackendURL())
	}

	push := services.NewPushChannel(config.GetBackendURL()+config.Config.PushStream, config.GetBackendToken())
	push.Start(context.Background())

	bus := services.NewCheckEventBus()
	journal := services.NewOutcomeJournal(config.Config.TransactionsDir)
	broadcaster := handlers.NewSSEBroadcaster()

	monitor := services.NewPaymentMonitor(backend, push, bus, journal, config.Config.KioskID, broadcaster.BroadcastCountdown)

	payments := handlers.NewPaymentHandlers(backend, monitor, push, journal, broadcaster, config.Config.KioskID)

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("./static"))))

	mux.HandleFunc("/create-payment", payments.CreatePaymentHandler)
	mux.HandleFunc("/cancel-payment", payments.CancelPaymentHandler)
	mux.HandleFunc("/payment-events", payments.PaymentSSEHandler)
	mux.HandleFunc("/payment-return", payments.ResumePaymentHandler)
	mux.HandleFunc("/payment-return/cancel", payments.ResumeCancelHandler)

	server := &http.Server{
		Addr:    ":" + config.Config.Port,
		Handler: mux,
	}

	go func() {
		utils.Info("main", "Kiosk client listening", "port", config.Config.Port, "kiosk_id", config.Config.KioskID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"monitor": func(ctx context.Context) error {
				monitor.Stop()
				return nil
			},
			"push-channel": func(ctx context.Context) error {
				push.Stop()
				return nil
			},
			"http-server": func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	utils.Info("main", "Kiosk client exited", "code", exitCode)
	os.Exit(exitCode)
}
