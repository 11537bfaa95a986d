package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/history"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/BioHazard786/Warpcall/internal/utils"
	"github.com/pion/webrtc/v4"
)

// CallContext wires the relay link, the call orchestrator and the history
// store for one CLI invocation.
type CallContext struct {
	Config  *config.Config
	Signal  *signaling.Client
	Calls   *call.Orchestrator
	History *history.Store
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && !cfg.HasTURN() {
		return nil, errors.New("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// transportPolicy routes media through TURN when asked to, or when the host
// sits behind a tunnel that usually breaks direct candidates.
func transportPolicy(cfg *config.Config) webrtc.ICETransportPolicy {
	if !cfg.HasTURN() {
		return webrtc.ICETransportPolicyAll
	}
	if cfg.ForceRelay {
		return webrtc.ICETransportPolicyRelay
	}
	if utils.ShouldForceRelay() {
		ui.PrintInfo("VPN or tunnel detected, media will go through TURN")
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

func NewCallContext(ctx context.Context, cfg *config.Config) (*CallContext, error) {
	logger := slog.Default()

	devices, err := media.NewCapture(logger)
	if err != nil {
		return nil, fmt.Errorf("init media: %w", err)
	}

	sig := signaling.NewClient(signaling.Options{
		URL:                  cfg.SignalURL,
		ParticipantID:        cfg.ParticipantID,
		Token:                cfg.Token,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.ReconnectAttempts,
		Logger:               logger,
	})

	sessionCfg := session.Config{
		ICEServers:         cfg.PeerICEServers(),
		ICETransportPolicy: transportPolicy(cfg),
		LocalID:            cfg.ParticipantID,
		LoggerFactory:      logging.NewPionFactory(logger),
		Logger:             logger,
		Sink:               &media.Stats{},
	}
	calls := call.New(sig, func(callID string, hooks session.Hooks) call.Session {
		return session.New(devices, sessionCfg, hooks)
	}, call.Options{
		LocalID:     cfg.ParticipantID,
		RingTimeout: cfg.RingTimeout,
		Logger:      logger,
	})

	cc := &CallContext{Config: cfg, Signal: sig, Calls: calls}

	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		ui.PrintWarningf("Call history disabled: %v", err)
	} else {
		store.Attach(calls, logger)
		cc.History = store
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	err = sig.Connect(ctx)
	stopSpinner()
	if err != nil {
		cc.Close()
		return nil, fmt.Errorf("connect to relay: %w", err)
	}
	return cc, nil
}

// Close hangs up any live call before the relay link goes away.
func (c *CallContext) Close() {
	if c.Calls != nil {
		c.Calls.Close()
	}
	if c.Signal != nil {
		c.Signal.Disconnect()
	}
	if c.History != nil {
		if err := c.History.Close(); err != nil {
			slog.Warn("close history", "error", err)
		}
	}
}
