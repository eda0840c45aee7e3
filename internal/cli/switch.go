package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/droidpool/droidpool/internal/errors"
	"github.com/droidpool/droidpool/internal/pool"
)

// switchCmd represents the switch command
var switchCmd = &cobra.Command{
	Use:   "switch <id>",
	Short: "Promote a specific reserve credential to active",
	Long: `Promote a reserve credential to the active slot.

The candidate's usage is queried first; the switch is refused when the
query fails or the quota is fully exhausted. The current active
credential is demoted back into the reserve pool.

Example:
  droidpool switch 1755950000000
  droidpool switch 1755950000000 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runSwitch,
}

// failoverCmd represents the failover command
var failoverCmd = &cobra.Command{
	Use:   "failover",
	Short: "Promote the least-used reserve credential",
	Long: `Pick the reserve credential with the lowest known usage and promote
it to the active slot, demoting the current active credential.`,
	RunE: runFailover,
}

var switchFlags struct {
	Yes bool
}

func init() {
	switchCmd.Flags().BoolVarP(&switchFlags.Yes, "yes", "y", false, "Skip the confirmation prompt")
	RootCmd.AddCommand(switchCmd)
	RootCmd.AddCommand(failoverCmd)
}

func runSwitch(cmd *cobra.Command, args []string) error {
	manager, _, _, err := buildManager()
	if err != nil {
		return err
	}
	id := args[0]

	var confirm pool.ConfirmFunc
	if !switchFlags.Yes {
		confirm = func(ratio float64) bool {
			fmt.Printf("Credential %s: %s\n", id, pool.FormatRatio(ratio))
			fmt.Print("Switch to this credential? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			answer = strings.ToLower(strings.TrimSpace(answer))
			return answer == "y" || answer == "yes"
		}
	}

	ratio, err := manager.Switch(context.Background(), id, confirm)
	if err != nil {
		if _, rejected := err.(*errors.ErrSwitchRejected); rejected {
			fmt.Println("Switch cancelled")
			return nil
		}
		return err
	}

	fmt.Printf("Switched to credential %s (%s)\n", id, pool.FormatRatio(ratio))
	return nil
}

func runFailover(cmd *cobra.Command, args []string) error {
	manager, _, _, err := buildManager()
	if err != nil {
		return err
	}

	id, err := manager.AutoFailover(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Switched to credential %s\n", id)
	return nil
}
