// Package models builds the forecasting model configured for a workload.
package models

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/HatiCode/prescaler/cmd/prescaler/config"
	"github.com/HatiCode/prescaler/pkg/models"
)

// New creates the model of wc. client is used by remote models; nil gives
// them their own pooled client.
func New(wc config.WorkloadConfig, client *http.Client, logger *slog.Logger) (models.Model, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc := models.Config{
		Workload:    wc.Name,
		WindowSize:  wc.WindowSize,
		Horizon:     wc.Horizon,
		StepSeconds: int(wc.ForecastStep.Seconds()),
	}
	if err := mc.Validate(); err != nil {
		return nil, fmt.Errorf("workload %q: %w", wc.Name, err)
	}

	switch wc.Model {
	case "", "baseline":
		logger.Info("initializing baseline model", "workload", wc.Name, "window", mc.WindowSize, "horizon", mc.Horizon)
		return models.NewBaselineModel(mc), nil

	case "byom":
		if wc.BYOMURL == "" {
			return nil, fmt.Errorf("workload %q: byom model requires a URL", wc.Name)
		}
		logger.Info("initializing BYOM model", "workload", wc.Name, "url", wc.BYOMURL, "valuePath", wc.BYOMValuePath)
		return models.NewBYOMModel(wc.BYOMURL, wc.BYOMValuePath, mc, client), nil

	default:
		return nil, fmt.Errorf("workload %q: unknown model %q", wc.Name, wc.Model)
	}
}
