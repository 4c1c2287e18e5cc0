package cmd

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chativa/chativa/internal/config"
	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/connectors"
	"github.com/chativa/chativa/internal/extension"
	"github.com/chativa/chativa/internal/extensions/htmltext"
	"github.com/chativa/chativa/internal/extensions/metrics"
	"github.com/chativa/chativa/internal/tui"
	"github.com/chativa/chativa/internal/widget"
)

// themeFromConfig converts the configured theme overrides.
func themeFromConfig(t config.ThemeConfig) widget.Theme {
	return widget.Theme{
		PrimaryColor:    t.PrimaryColor,
		SecondaryColor:  t.SecondaryColor,
		BackgroundColor: t.BackgroundColor,
		TextColor:       t.TextColor,
		Position:        t.Position,
		Width:           t.Width,
	}
}

// buildWidget assembles a widget from cfg: every enabled connector is
// registered, the configured extensions are installed and the terminal
// renderers are registered.
func buildWidget(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*widget.Widget, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	connReg := connector.NewRegistry()
	if _, err := connectors.RegisterEnabled(connReg, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to register connectors: %w", err)
	}

	extReg := extension.NewRegistry(logger)
	if cfg.Extensions.HTMLText.Enabled {
		if err := extReg.Install(htmltext.New()); err != nil {
			return nil, fmt.Errorf("failed to install %s: %w", htmltext.Name, err)
		}
	}
	if cfg.Extensions.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		if err := extReg.Install(metrics.New(reg)); err != nil {
			return nil, fmt.Errorf("failed to install %s: %w", metrics.Name, err)
		}
	}

	w := widget.New(widget.Options{
		Connector:  cfg.Widget.Connector,
		Connectors: connReg,
		Extensions: extReg,
		Theme:      themeFromConfig(cfg.Widget.Theme),
		Logger:     logger,
	})
	tui.RegisterRenderers(w.Types())
	return w, nil
}
