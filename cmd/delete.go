package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/audiolibrelab/sensorcapture/internal/storage"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete all captured data",
	Long: `Remove the storage folder and everything recorded into it. The next
capture recreates the folder and writes fresh files with headers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Storage.Dir()
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete all data in %s? [y/N] ", dir)) {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}

		if err := storage.NewWriter(dir).DeleteAll(); err != nil {
			return fmt.Errorf("failed to delete data: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Delete all data.")
		return nil
	},
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	deleteCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
}
