package main

import (
	"log/slog"

	"github.com/crossdesk/relay/internal/config"
)

// logStartupSecurityWarnings flags configurations that weaken the relay's
// security posture. None of these abort startup; they exist so a permissive
// deployment is a visible, deliberate choice.
func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
		)
	}

	if cfg.ControlRelayMode == config.ControlRelayPassthrough {
		logger.Warn("startup security warning: CONTROL_RELAY_MODE=passthrough relays control envelopes without a consent-gated session",
			"warning_code", "control_relay_passthrough",
			"control_relay_mode", cfg.ControlRelayMode,
		)
	}

	for _, entry := range cfg.AllowedOrigins {
		if entry == "*" {
			logger.Warn("startup security warning: ALLOWED_ORIGINS contains \"*\"; any website may open signaling connections",
				"warning_code", "allowed_origins_wildcard",
			)
			break
		}
	}

	if len(cfg.AllowedLocations) == 0 {
		logger.Warn("startup security warning: ALLOWED_LOCATIONS is empty; sessions may be created from any self-reported location",
			"warning_code", "allowed_locations_empty",
		)
	}
}
