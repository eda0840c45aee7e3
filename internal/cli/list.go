package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show the active credential and the reserve pool",
	RunE:    runList,
}

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:     "delete <id...>",
	Aliases: []string{"rm"},
	Short:   "Remove credentials from the reserve pool",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDelete,
}

func init() {
	RootCmd.AddCommand(listCmd)
	RootCmd.AddCommand(deleteCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	_, fileStore, _, err := buildManager()
	if err != nil {
		return err
	}

	active, hasActive := fileStore.LoadActive()
	reserve := fileStore.LoadReserve()

	if globalFlags.JSON {
		out := map[string]interface{}{"reserve": reserve}
		if hasActive {
			out["active"] = active
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	if hasActive {
		fmt.Printf("Active: %s\n", active.ID)
	} else {
		fmt.Println("Active: none")
	}

	if len(reserve) == 0 {
		fmt.Println("Reserve pool is empty")
		return nil
	}
	fmt.Printf("Reserve pool (%d):\n", len(reserve))
	for _, c := range reserve {
		marker := " "
		if hasActive && c.ID == active.ID {
			marker = "*"
		}
		status := string(c.Status)
		if status == "" {
			status = "-"
		}
		fmt.Printf("  %s %s  %-10s %s\n", marker, c.ID, status, c.UsageLabel())
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	manager, _, _, err := buildManager()
	if err != nil {
		return err
	}

	removed, err := manager.Delete(args)
	if err != nil {
		return err
	}
	if removed == 0 {
		fmt.Printf("No credentials matched: %s\n", strings.Join(args, ", "))
		return nil
	}
	fmt.Printf("Removed %d credential(s)\n", removed)
	return nil
}
