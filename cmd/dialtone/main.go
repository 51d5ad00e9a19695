package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/emiago/sipgo/sip"
	"github.com/pion/rtp"

	"github.com/sebas/dialtone/internal/banner"
	"github.com/sebas/dialtone/internal/config"
	"github.com/sebas/dialtone/internal/logger"
	"github.com/sebas/dialtone/internal/media"
	"github.com/sebas/dialtone/internal/metrics"
	"github.com/sebas/dialtone/internal/session"
	"github.com/sebas/dialtone/internal/signaling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.LogLevel)

	banner.Print("DIALTONE", []banner.ConfigLine{
		{Label: "SIP Listen", Value: fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "User", Value: cfg.User},
		{Label: "Audio File", Value: cfg.AudioFile},
		{Label: "Metrics", Value: cfg.MetricsAddr},
		{Label: "Log Level", Value: cfg.LogLevel},
	})

	if cfg.MetricsAddr != "" {
		go func() {
			slog.Info("Metrics listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil {
				slog.Error("Metrics server error", "error", err)
			}
		}()
	}

	var prompt []byte
	if cfg.AudioFile != "" {
		wav, err := media.LoadWAV(cfg.AudioFile)
		if err != nil {
			slog.Error("Failed to load audio prompt", "file", cfg.AudioFile, "error", err)
			os.Exit(1)
		}
		prompt, err = wav.ToPCMU()
		if err != nil {
			slog.Error("Failed to convert audio prompt", "file", cfg.AudioFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Audio prompt loaded", "file", cfg.AudioFile, "pcmu_bytes", len(prompt))
	}

	sig, err := signaling.NewServer()
	if err != nil {
		slog.Error("Failed to create signaling server", "error", err)
		os.Exit(1)
	}
	defer sig.Close()

	mgr := session.NewManager(sig.Bus(), session.Config{
		LocalKey: cfg.LocalSRTPKey,
		Contact: sip.Uri{
			User: cfg.User,
			Host: cfg.AdvertiseAddr,
			Port: cfg.Port,
		},
		Decoder: media.ULawDecoder{},
		Events: session.Events{
			OnDigit: func(digit rune) {
				slog.Info("DTMF received", "digit", string(digit))
			},
			OnAudio: func(pkt *rtp.Packet, pcm []byte) {
				slog.Debug("Audio frame", "seq", pkt.SequenceNumber, "pcm_bytes", len(pcm))
			},
		},
	})

	sig.OnInvite(func(req *sip.Request, tx sip.ServerTransaction) {
		handleInvite(mgr, cfg, prompt, req, tx)
	})

	run(sig, mgr, cfg)
}

// handleInvite answers every incoming call, then streams the configured
// prompt into it.
func handleInvite(mgr *session.Manager, cfg *config.Config, prompt []byte, req *sip.Request, tx sip.ServerTransaction) {
	trying := sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		slog.Error("Failed to send 100 Trying", "error", err)
		return
	}

	s, err := mgr.CreateFromInvite(req)
	if err != nil {
		slog.Error("Rejecting call", "call_id", req.CallID().Value(), "error", err)
		resp := sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable", nil)
		if err := tx.Respond(resp); err != nil {
			slog.Error("Failed to reject call", "error", err)
		}
		return
	}

	if err := s.StartLocalServices(); err != nil {
		slog.Error("Failed to start media", "call_id", s.CallID(), "error", err)
		s.Dispose()
		return
	}

	if err := s.Ring(tx, req); err != nil {
		slog.Warn("Failed to send ringing", "call_id", s.CallID(), "error", err)
	}
	if err := s.Accept(tx, req, cfg.AdvertiseAddr); err != nil {
		slog.Error("Failed to answer", "call_id", s.CallID(), "error", err)
		s.Dispose()
		return
	}
	slog.Info("Call answered", "call_id", s.CallID(), "media_port", s.LocalMediaPort())

	if len(prompt) > 0 {
		if _, err := s.StreamAudio(prompt); err != nil {
			slog.Warn("Failed to stream prompt", "call_id", s.CallID(), "error", err)
		}
	}
}

func run(sig *signaling.Server, mgr *session.Manager, cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
		if err := sig.ListenAndServe(ctx, addr); err != nil {
			slog.Error("SIP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	received := <-sigChan
	slog.Info("Received signal, shutting down", "signal", received)

	mgr.Shutdown()
	cancel()
}
