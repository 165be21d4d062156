package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/ema-stage/core/agents"
	"golang.org/x/sync/errgroup"
)

const (
	enginesTimeout     = 15 * time.Second
	healthCheckWorkers = 4
)

type engineReport struct {
	engine    agents.Engine
	isDefault bool
	health    agents.Health
	err       error
}

func runEngines(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("engines", flag.ContinueOnError)
	envFile := flags.String("env", "", "path to an env file")
	checkHealth := flags.Bool("health", true, "check each engine's health")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*envFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), enginesTimeout)
	defer cancel()

	reports, err := collectEngineReports(ctx, agents.NewClient(cfg.APIBaseURL), *checkHealth)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, renderEngineReports(reports, *checkHealth))
	return err
}

// collectEngineReports lists the engines and checks their health concurrently. A
// failed check is recorded on its report and does not stop the others.
func collectEngineReports(ctx context.Context, client *agents.Client, checkHealth bool) ([]engineReport, error) {
	engines, err := client.ListEngines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list engines: %w", err)
	}

	defaultID := ""
	if engine, err := client.DefaultEngine(ctx); err == nil && engine != nil {
		defaultID = engine.ID
	}

	reports := make([]engineReport, len(engines))
	for i, engine := range engines {
		reports[i] = engineReport{engine: engine, isDefault: engine.ID == defaultID}
	}
	if !checkHealth {
		return reports, nil
	}

	var g errgroup.Group
	g.SetLimit(healthCheckWorkers)
	for i := range reports {
		g.Go(func() error {
			reports[i].health, reports[i].err = client.CheckHealth(ctx, reports[i].engine.ID, nil)
			return nil
		})
	}
	_ = g.Wait()
	return reports, nil
}

func renderEngineReports(reports []engineReport, withHealth bool) string {
	if len(reports) == 0 {
		return "no engines registered\n"
	}

	idStyle := lipgloss.NewStyle().Bold(true)
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))
	badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#ff71ce"))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3d8"))

	var b strings.Builder
	for _, r := range reports {
		line := idStyle.Render(r.engine.ID)
		if r.engine.Label != "" && r.engine.Label != r.engine.ID {
			line += " " + mutedStyle.Render(r.engine.Label)
		}
		if r.isDefault {
			line += " " + mutedStyle.Render("(default)")
		}
		if withHealth {
			line += "  " + healthText(r, okStyle, badStyle)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func healthText(r engineReport, ok, bad lipgloss.Style) string {
	switch {
	case r.err != nil:
		return bad.Render("error: " + r.err.Error())
	case r.health.OK:
		text := "ok"
		if r.health.LatencyMS != nil {
			text += fmt.Sprintf(" %.0fms", *r.health.LatencyMS)
		}
		return ok.Render(text)
	default:
		text := "unhealthy"
		if r.health.Message != nil && *r.health.Message != "" {
			text += ": " + *r.health.Message
		}
		return bad.Render(text)
	}
}
