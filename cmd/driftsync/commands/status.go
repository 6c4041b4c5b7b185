package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/cli/output"
	"github.com/driftsync/driftsync/pkg/drive"
	"github.com/driftsync/driftsync/pkg/task"
)

var (
	statusAPIPort int
	statusOutput  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Long: `Display the current status of a running DriftSync engine.

The command queries the management API for the aggregate health, queue
depth, and per-drive sync state.

Examples:
  # Check status (uses default API port)
  driftsync status

  # Check status with custom API port
  driftsync status --api-port 9080

  # Output as JSON or YAML
  driftsync status --output json
  driftsync status --output yaml`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8640, "management API port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format (table, json, yaml)")
}

// engineStats mirrors the management API stats payload.
type engineStats struct {
	Health string         `json:"health" yaml:"health"`
	Queue  task.Stats     `json:"queue" yaml:"queue"`
	Drives []drive.Status `json:"drives" yaml:"drives"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/v1/stats", statusAPIPort))
	if err != nil {
		return fmt.Errorf("engine is not running or not reachable on port %d: %w", statusAPIPort, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from engine: %s", resp.Status)
	}

	var stats engineStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode engine response: %w", err)
	}

	printer := output.NewPrinter(os.Stdout, format)
	if format != output.FormatTable {
		return printer.Print(stats)
	}

	printer.Printf("Health:  %s\n", stats.Health)
	printer.Printf("Queue:   %d pending, %d running, %d workers\n",
		stats.Queue.Pending, stats.Queue.Running, stats.Queue.Workers)
	printer.Println()

	table := output.NewTableData("NAME", "BACKEND", "HEALTH", "ENABLED", "CONFLICTS", "LOCAL PATH")
	for _, d := range stats.Drives {
		table.AddRow(
			d.Name,
			d.Backend,
			string(d.Health),
			strconv.FormatBool(d.Enabled),
			strconv.Itoa(d.Conflicts),
			d.LocalPath,
		)
	}
	return printer.Print(table)
}
