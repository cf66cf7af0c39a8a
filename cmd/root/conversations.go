package root

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newConversationsCmd(flags *rootFlags) *cobra.Command {
	var projectID string
	var limit int

	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := openEngine(flags)
			if err != nil {
				return err
			}
			defer eng.Close()

			conversations, err := eng.Store.ListConversations(cmd.Context(), projectID, limit, 0)
			if err != nil {
				return err
			}

			for _, conv := range conversations {
				updated := time.UnixMilli(conv.UpdatedAt).Format("2006-01-02 15:04")
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", conv.ID, updated, conv.Title)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "list a project's conversations")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum conversations")
	return cmd
}
