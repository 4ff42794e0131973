// Package app wires the secondary-agent binary's options into a
// runnable command, following the same app.App/RunFunc shape as every
// other binary in this repository.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/ironbridge-io/secondary-agent/cmd/secondary-agent/app/options"
	"github.com/ironbridge-io/secondary-agent/internal/pkg/metrics"
	"github.com/ironbridge-io/secondary-agent/internal/secondary"
	"github.com/ironbridge-io/secondary-agent/internal/server"
	"github.com/ironbridge-io/secondary-agent/internal/wire"
	"github.com/ironbridge-io/secondary-agent/pkg/app"
	"github.com/ironbridge-io/secondary-agent/pkg/log"
)

const healthMarkInterval = 30 * time.Second

const (
	commandName = "secondary-agent"
	commandDesc = `secondary-agent runs on a vehicle Secondary ECU, speaking the Uptane
wire protocol to the vehicle's Primary: it verifies Director and Image
repository metadata, receives and installs firmware, and reports its
state back in a signed manifest.`
)

func NewApp() *app.App {
	opts := options.NewSecondaryAgentOptions()
	application := app.NewApp(
		commandName,
		"Run the vehicle Secondary ECU update agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	application.Command().AddCommand(newStatusCommand(opts))
	return application
}

func run(opts *options.SecondaryAgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		defer func() { _ = cfg.Store.Close() }()

		sec, err := secondary.New(secondary.Config{
			ECUSerial:   cfg.ECUSerial,
			HardwareID:  cfg.HardwareID,
			KeyPair:     cfg.KeyPair,
			Store:       cfg.Store,
			Agent:       cfg.Agent,
			FirmwareDir: cfg.FirmwareDir,
		})
		if err != nil {
			return fmt.Errorf("constructing secondary core: %w", err)
		}

		if err := sec.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrapping secondary core: %w", err)
		}

		dispatcher := wire.NewDispatcher()
		sec.RegisterHandlers(dispatcher)

		srv := server.New(cfg.ListenAddress, cfg.PrimaryAddress, cfg.DiscoveryTimeout, cfg.DiscoveryMaxRetries, dispatcher)

		if err := srv.Discover(ctx); err != nil {
			log.Warn("primary discovery failed, continuing to listen for an inbound connection", "error", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Serve(gctx) })
		g.Go(func() error { return runHealthMark(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			srv.Stop()
			return nil
		})

		err = g.Wait()
		if err == server.ErrRebootRequired {
			log.Info("install requires a reboot to finalize, exiting")
			return nil
		}
		return err
	}
}

// runHealthMark ticks a liveness gauge for the duration of the accept
// loop so a scrape-based monitor can tell a wedged process from an idle
// one, and stops cleanly once Serve's context is done.
func runHealthMark(ctx context.Context) error {
	ticker := time.NewTicker(healthMarkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			metrics.LastHeartbeatUnixSeconds.SetToCurrentTime()
		}
	}
}
