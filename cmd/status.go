package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
)

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Live terminal dashboard over a server's health endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Value: "http://127.0.0.1:8181",
				Usage: "base URL of the server's health endpoint",
			},
		},
		Action: func(c *cli.Context) error {
			return runStatus(c.Context, c.String("url"))
		},
	}
}

type statsPayload struct {
	ActorCount int    `json:"actor_count"`
	InFlight   int64  `json:"inflight"`
	Health     string `json:"health"`
	Sessions   int    `json:"sessions"`
	Pending    int    `json:"pending"`
}

func fetchStats(ctx context.Context, base string) (statsPayload, error) {
	var stats statsPayload
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/stats", nil)
	if err != nil {
		return stats, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&stats)
	return stats, err
}

func runStatus(ctx context.Context, base string) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("status: init terminal: %w", err)
	}
	defer ui.Close()

	health := widgets.NewParagraph()
	health.Title = "Health"
	health.SetRect(0, 0, 40, 5)

	counters := widgets.NewList()
	counters.Title = "Runtime"
	counters.SetRect(0, 5, 40, 12)

	render := func(stats statsPayload, err error) {
		if err != nil {
			health.Text = fmt.Sprintf("unreachable: %v", err)
			health.TextStyle = ui.NewStyle(ui.ColorRed)
		} else {
			health.Text = stats.Health
			switch stats.Health {
			case "healthy":
				health.TextStyle = ui.NewStyle(ui.ColorGreen)
			case "draining":
				health.TextStyle = ui.NewStyle(ui.ColorYellow)
			default:
				health.TextStyle = ui.NewStyle(ui.ColorRed)
			}
			counters.Rows = []string{
				fmt.Sprintf("actors     %d", stats.ActorCount),
				fmt.Sprintf("in-flight  %d", stats.InFlight),
				fmt.Sprintf("sessions   %d", stats.Sessions),
				fmt.Sprintf("pending    %d", stats.Pending),
			}
		}
		ui.Render(health, counters)
	}

	stats, err := fetchStats(ctx, base)
	render(stats, err)

	events := ui.PollEvents()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			if e.Type == ui.KeyboardEvent && (e.ID == "q" || e.ID == "<C-c>") {
				return nil
			}
		case <-ticker.C:
			stats, err := fetchStats(ctx, base)
			render(stats, err)
		}
	}
}
