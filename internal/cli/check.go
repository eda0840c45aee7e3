package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/droidpool/droidpool/internal/pool"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check [id...]",
	Short: "Query usage for the active or reserve credentials",
	Long: `Query quota usage.

Without arguments the active credential is checked. With --all every
reserve credential is checked. With ids only those reserve credentials
are checked.

Example:
  droidpool check
  droidpool check --all
  droidpool check 1755950000000 1755950000001`,
	RunE: runCheck,
}

var checkFlags struct {
	All bool
}

func init() {
	checkCmd.Flags().BoolVar(&checkFlags.All, "all", false, "Check every reserve credential")
	RootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	manager, _, _, err := buildManager()
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch {
	case checkFlags.All:
		results, err := manager.CheckAll(ctx)
		if err != nil {
			return err
		}
		return printResults(results)
	case len(args) > 0:
		results, err := manager.CheckSelected(ctx, args)
		if err != nil {
			return err
		}
		return printResults(results)
	default:
		result, err := manager.CheckActive(ctx, true)
		if err != nil {
			return err
		}
		if globalFlags.JSON {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		fmt.Printf("Active credential %s: %s\n", result.ID, pool.FormatRatio(result.Ratio))
		if result.Exhausted {
			fmt.Println("WARNING: quota is exhausted, consider switching")
		}
		return nil
	}
}

func printResults(results []pool.CheckResult) error {
	if globalFlags.JSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("Nothing to check")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%s: %s\n", r.ID, pool.FormatRatio(r.Ratio))
	}
	return nil
}
