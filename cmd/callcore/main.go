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

	router "github.com/dkeye/callsignal/internal/adapters/http"
	"github.com/dkeye/callsignal/internal/adapters/rtc"
	sig "github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/adapters/store"
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/app/orch"
	"github.com/dkeye/callsignal/internal/auth"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	resume, closeStore := openStore(ctx, cfg)
	defer closeStore()

	client := sig.NewClient(sig.Options{
		URL:          cfg.Signaling.URL,
		StoreKey:     cfg.Signaling.UserID + "@" + cfg.Room.Token,
		WriteTimeout: cfg.Signaling.WriteTimeout,
		PingPeriod:   cfg.Signaling.PingPeriod,
		QueueWarn:    cfg.Signaling.QueueWarn,
		Backoff: sig.Backoff{
			Initial: cfg.Reconnect.InitialDelay,
			Max:     cfg.Reconnect.MaxDelay,
			Jitter:  cfg.Reconnect.Jitter,
		},
	}, sig.WSDialer{ReadLimit: cfg.Signaling.ReadLimit}, credentials(cfg), resume)

	reg := app.NewRegistry()
	if err := reg.Add(domain.UserID(cfg.Signaling.UserID), client); err != nil {
		log.Fatal().Err(err).Msg("register signaling client")
	}
	defer reg.CloseAll()

	tracks, err := localTracks()
	if err != nil {
		log.Fatal().Err(err).Msg("create local tracks")
	}

	local := core.NewLocalParticipant(core.LocalState{})
	call := orch.NewCall(orch.Config{
		Room:           domain.Room{Token: domain.RoomToken(cfg.Room.Token), BackendSession: cfg.Room.BackendSession},
		Nick:           cfg.Call.Nick,
		MaxICERestarts: cfg.Call.MaxICERestarts,
		RejoinLimit:    cfg.Call.RejoinLimit,
		RejoinInterval: cfg.Call.RejoinInterval,
		ICE:            rtc.ICEServersConfig(cfg.ICEServers, cfg.ICEUsername, cfg.ICECredential),
		Tracks:         tracks,
	}, client, rtc.NewPeerConnection, local, nil, &uiLog{})
	client.SetListener(call)

	client.Start(ctx)
	if err := call.Join(); err != nil {
		log.Error().Err(err).Msg("join room")
	}

	r := router.SetupRouter(cfg, call)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("call core started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if err := call.HangUp(); err != nil {
		log.Warn().Err(err).Msg("hang up on shutdown")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// openStore prefers Redis and falls back to process memory.
func openStore(ctx context.Context, cfg *config.Config) (store.ResumeStore, func()) {
	if cfg.Redis.Addr == "" {
		return store.NewMemory(), func() {}
	}
	rs, err := store.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, resume state kept in memory")
		return store.NewMemory(), func() {}
	}
	return rs, func() {
		if err := rs.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
}

func credentials(cfg *config.Config) auth.Provider {
	if cfg.Signaling.TicketSecret != "" {
		return &auth.SignedTicket{
			URL:    cfg.Signaling.BackendURL,
			UserID: cfg.Signaling.UserID,
			Issuer: "callcore",
			Secret: []byte(cfg.Signaling.TicketSecret),
			TTL:    cfg.Signaling.TicketTTL,
		}
	}
	return auth.Static{URL: cfg.Signaling.BackendURL, UserID: cfg.Signaling.UserID, Ticket: cfg.Signaling.Ticket}
}

// localTracks negotiates audio and video; samples are written by the media layer.
func localTracks() ([]webrtc.TrackLocal, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "callcore")
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "video", "callcore")
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{audio, video}, nil
}
