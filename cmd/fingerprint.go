package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"radiotiker/core/identity"

	"github.com/spf13/cobra"
)

var fingerprintRoot string

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint FILE...",
	Short: "Print the track id the agent would assign to each file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := fingerprintRoot
		if root == "" {
			root = cfg.AgentLibraryPath
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		for _, arg := range args {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			info, err := os.Stat(abs)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(absRoot, abs)
			if err != nil {
				return err
			}
			id := identity.Fingerprint(filepath.ToSlash(rel), info.Size(), info.ModTime().Unix())
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, filepath.ToSlash(rel))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)
	fingerprintCmd.Flags().StringVarP(&fingerprintRoot, "root", "r", "", "library root the ids are relative to (defaults to AGENT_LIBRARY_PATH)")
}
