package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/history"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent check and failover events",
	RunE:  runHistory,
}

var historyFlags struct {
	Limit int
}

func init() {
	historyCmd.Flags().IntVarP(&historyFlags.Limit, "limit", "n", 50, "Maximum number of events to show")
	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(globalFlags.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	h, err := history.New(cfg.History.DBPath, cfg.History.RetentionDays)
	if err != nil {
		return err
	}
	defer h.Close()

	events, err := h.Recent(historyFlags.Limit)
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		return json.NewEncoder(os.Stdout).Encode(events)
	}
	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}
	for _, e := range events {
		ratio := "-"
		if e.Ratio >= 0 {
			ratio = fmt.Sprintf("%.1f%%", e.Ratio*100)
		}
		fmt.Printf("%s  %-16s %-15s %-7s %s\n",
			e.At.Format(time.RFC3339), e.Kind, e.CredentialID, ratio, e.Detail)
	}
	return nil
}
