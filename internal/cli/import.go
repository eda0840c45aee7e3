package cli

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import credentials into the reserve pool",
	Long: `Import credentials from a file or stdin.

Each line holds one credential as "refreshToken----accessToken". Lines
with fewer than two fields are ignored; credentials whose refresh token
already exists in the pool are skipped as duplicates.

Example:
  droidpool import tokens.txt
  cat tokens.txt | droidpool import`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	RootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	manager, _, _, err := buildManager()
	if err != nil {
		return err
	}

	in := os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open import file: %w", err)
		}
		defer f.Close()
		in = f
	}

	var lines []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read import input: %w", err)
	}

	added, skipped, err := manager.Import(lines)
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		fmt.Printf("{\"added\": %d, \"skipped\": %d}\n", added, skipped)
		return nil
	}
	fmt.Printf("Imported %d credential(s), skipped %d duplicate(s)\n", added, skipped)
	return nil
}
