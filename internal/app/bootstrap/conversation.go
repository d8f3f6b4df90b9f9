package bootstrap

import (
	"fmt"

	appconfig "github.com/wolfman30/cmms-omnibot/internal/config"
	"github.com/wolfman30/cmms-omnibot/internal/conversation"
	"github.com/wolfman30/cmms-omnibot/internal/session"
	"github.com/wolfman30/cmms-omnibot/internal/workflow"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// EngineDeps are the pieces every channel engine shares.
type EngineDeps struct {
	Store    session.Store
	Locker   *session.Locker
	Records  conversation.RecordClient
	Trigger  workflow.Triggerer
	Observer conversation.Observer
}

// Engines holds one engine per channel plus the inline engine the workflow
// worker drives.
type Engines struct {
	WhatsApp *conversation.Engine
	WebChat  *conversation.Engine
	Gateway  *conversation.Engine
	Inline   *conversation.Engine
}

// BuildEngines wires the per-channel engines. They share the store, locker
// and machine so a user's session is the same whichever engine touches it.
func BuildEngines(cfg *appconfig.Config, deps EngineDeps, logger *logging.Logger) (*Engines, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	machine := conversation.NewMachine(deps.Records, logger)

	build := func(channel, rawMode string) (*conversation.Engine, error) {
		mode := resolveMode(channel, rawMode, deps.Trigger != nil, logger)
		dispatcher, err := conversation.NewDispatcher(mode, deps.Trigger, logger,
			conversation.WithTriggerTimeout(cfg.WorkflowTriggerTimeout),
			conversation.WithDispatchObserver(deps.Observer),
		)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %s dispatcher: %w", channel, err)
		}
		engine, err := conversation.NewEngine(deps.Store, deps.Locker, machine, dispatcher, logger,
			conversation.WithObserver(deps.Observer),
			conversation.WithStoreTimeout(cfg.StoreTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %s engine: %w", channel, err)
		}
		logger.Info("conversation engine ready", "channel", channel, "mode", mode)
		return engine, nil
	}

	var (
		engines Engines
		err     error
	)
	if engines.WhatsApp, err = build("whatsapp", cfg.WhatsAppDispatchMode); err != nil {
		return nil, err
	}
	if engines.WebChat, err = build("webchat", cfg.WebchatDispatchMode); err != nil {
		return nil, err
	}
	if engines.Gateway, err = build("gateway", cfg.GatewayDispatchMode); err != nil {
		return nil, err
	}
	if engines.Inline, err = build("worker", string(conversation.ModeInline)); err != nil {
		return nil, err
	}
	return &engines, nil
}

// resolveMode parses a configured mode, falling back to inline when the value
// is unknown or when delegation has no trigger to call.
func resolveMode(channel, raw string, haveTrigger bool, logger *logging.Logger) conversation.Mode {
	mode, err := conversation.ParseMode(raw)
	if err != nil {
		logger.Warn("invalid dispatch mode; using inline", "channel", channel, "mode", raw)
		return conversation.ModeInline
	}
	if mode == conversation.ModeDelegate && !haveTrigger {
		logger.Warn("delegate mode without a workflow trigger; using inline", "channel", channel)
		return conversation.ModeInline
	}
	return mode
}
