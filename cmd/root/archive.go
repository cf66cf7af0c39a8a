package root

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newArchiveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Run one archive pass over old conversations and projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := openEngine(flags)
			if err != nil {
				return err
			}
			defer eng.Close()

			moved, err := eng.Archiver.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d item(s)\n", moved)
			return nil
		},
	}
}
