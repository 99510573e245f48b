// cmd/importini.go
package cmd

import (
	"fmt"

	"github.com/ColonelBlimp/whistledetector/internal/config"
	"github.com/spf13/cobra"
)

var importINICmd = &cobra.Command{
	Use:   "import-ini <WhistleConfig.ini> [out.yaml]",
	Short: "Convert a legacy WhistleConfig.ini into a YAML config file",
	Long: `Reads the Frequencies, Time and Whistle sections of a legacy
WhistleConfig.ini and writes them as a YAML config file (config.yaml in
the current directory unless a path is given).`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := "config.yaml"
		if len(args) == 2 {
			out = args[1]
		}

		values, err := config.ReadINI(args[0])
		if err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteYAML(values, out, force); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d settings to %s\n", len(values), out)
		return nil
	},
}

func init() {
	importINICmd.Flags().BoolP("force", "f", false, "overwrite an existing output file")
	rootCmd.AddCommand(importINICmd)
}
