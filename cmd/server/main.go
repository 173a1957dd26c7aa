package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog/log"

	"github.com/vendio/wasession/discovery"
	"github.com/vendio/wasession/dispatch"
	"github.com/vendio/wasession/internal/config"
	"github.com/vendio/wasession/relay"
	"github.com/vendio/wasession/server"
	"github.com/vendio/wasession/sessions"
	"github.com/vendio/wasession/wa/whatsapp"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("server exited with error, restarting")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	ctx := context.Background()
	dialer, err := whatsapp.NewDialer(ctx, c.GetDataFolder())
	if err != nil {
		return fmt.Errorf("whatsapp.NewDialer: %w", err)
	}

	registry := sessions.NewRegistry()
	broker := relay.NewBroker()
	supervisor := sessions.NewSupervisor(registry, dialer, broker)
	supervisor.SetRecheckDelay(c.GetRecheckDelay())
	status := sessions.NewStatusService(registry)

	discoverySvc := discovery.NewService(registry, supervisor)
	discoverySvc.SetSettleDelay(c.GetSettleDelay())
	dispatchSvc := dispatch.NewService(registry)

	srv, err := server.New(c, registry, supervisor, status, discoverySvc, dispatchSvc, broker)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()

	supervisor.Shutdown()
	broker.Close()
	return shutdown(httpServer)
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
