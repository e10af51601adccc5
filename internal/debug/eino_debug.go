// Package debug starts the eino visual debugger for the decision graph.
package debug

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/devops"
	"github.com/rs/zerolog"

	"github.com/dyike/CortexFund/config"
)

type EinoDebugger struct {
	config *config.Config
	logger zerolog.Logger
}

func NewEinoDebugger(cfg *config.Config, logger zerolog.Logger) *EinoDebugger {
	return &EinoDebugger{config: cfg, logger: logger}
}

// Initialize must run before the orchestrator graph is compiled so the
// graph registers with the debug server.
func (d *EinoDebugger) Initialize(ctx context.Context) error {
	if !d.IsEnabled() {
		return nil
	}
	if err := devops.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize Eino debug plugin: %w", err)
	}
	d.logger.Info().Str("url", d.GetDebugURL()).Msg("eino debug server started")
	return nil
}

func (d *EinoDebugger) IsEnabled() bool {
	return d.config != nil && d.config.EinoDebugEnabled
}

func (d *EinoDebugger) GetDebugURL() string {
	if !d.IsEnabled() {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", d.config.EinoDebugPort)
}
