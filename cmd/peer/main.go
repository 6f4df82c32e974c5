package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/peercall/internal/adapters/relay"
	"github.com/dkeye/peercall/internal/adapters/rtc"
	"github.com/dkeye/peercall/internal/app/media"
	"github.com/dkeye/peercall/internal/app/session"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/identity"
	control "github.com/dkeye/peercall/internal/transport/http"
)

const reconnectEvery = 3 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var audio, video, testSource bool
	cmd := &cobra.Command{
		Use:          "peercall",
		Short:        "One participant of a two-party call, driven through a local control API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, &media.Source{Audio: audio, Video: video, Silence: testSource})
		},
	}
	cmd.Flags().BoolVar(&audio, "audio", true, "send an audio track")
	cmd.Flags().BoolVar(&video, "video", true, "send a video track")
	cmd.Flags().BoolVar(&testSource, "test-source", false, "send generated silence on the audio track")
	config.AddFlags(cmd.Flags(), "mode", "control_port", "relay_url", "negotiation_timeout")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("peer failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, src *media.Source) error {
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	sid := identity.MustGenerate()
	src.Owner = sid

	api, err := rtc.NewAPI()
	if err != nil {
		return fmt.Errorf("webrtc api: %w", err)
	}
	iceCfg := rtc.Configuration(cfg.ICEServers, cfg.ICECandidatePoolSize)
	sinks := media.NewSinks(sid)

	client := relay.NewClient(relay.Options{
		URL:        cfg.RelayURL,
		UserID:     sid,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
	})

	ctl := session.New(session.Deps{
		Owner: sid,
		Relay: client,
		Media: src,
		NewTransport: func() (core.Transport, error) {
			conn, err := rtc.NewConnection(api, iceCfg, sid)
			if err != nil {
				return nil, err
			}
			conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
				sinks.Attach(ctx, track)
			})
			conn.Start(ctx)
			return conn, nil
		},
		Timeout:   cfg.NegotiationTimeout,
		HoldLimit: cfg.MaxHeldCandidates,
	})

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = ctl.Run(ctx)
	}()
	go logNotices(ctx, ctl)
	go keepRelay(ctx, client)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.ControlPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: control.SetupRouter(cfg.Mode, ctl, sinks),
	}
	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("sid", string(sid)).Msg("peer control API started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errs:
		runErr = fmt.Errorf("control listen: %w", err)
	}
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control server forced to shutdown")
	}
	if runErr == nil {
		<-stopped
	}
	sinks.StopAll()
	client.Close()
	log.Info().Msg("Peer exited gracefully")
	return runErr
}

// keepRelay dials the relay and redials after it drops until ctx is done.
func keepRelay(ctx context.Context, client *relay.Client) {
	ticker := time.NewTicker(reconnectEvery)
	defer ticker.Stop()
	for {
		if !client.IsConnected() {
			if err := client.Connect(ctx); err != nil {
				log.Warn().Err(err).Str("module", "relay").Msg("relay connect failed, retrying")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func logNotices(ctx context.Context, ctl *session.Controller) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ctl.Notices():
			ev := log.Info()
			if n.Blocking {
				ev = log.Warn()
			}
			ev.Str("module", "notice").Msg(n.Message)
		}
	}
}
