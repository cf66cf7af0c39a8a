package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notabene-ai/notabene/pkg/dispatch"
)

func newChatCmd(flags *rootFlags) *cobra.Command {
	var conversationID string
	var attachments []string

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message and stream the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(flags)
			if err != nil {
				return err
			}
			defer eng.Close()
			eng.Start(cmd.Context())

			convID := conversationID
			if convID == "" {
				conv, err := eng.Conversation.CreateConversation(cmd.Context(), "", nil, "", "")
				if err != nil {
					return err
				}
				convID = conv.ID
				fmt.Fprintln(cmd.ErrOrStderr(), "conversation:", convID)
			}

			events, err := eng.Conversation.StreamChat(cmd.Context(), convID, args[0], attachments)
			if err != nil {
				return err
			}

			for ev := range events {
				switch ev.Type {
				case dispatch.EventTextDelta:
					fmt.Fprint(cmd.OutOrStdout(), ev.Text)
				case dispatch.EventError:
					return ev.Err
				case dispatch.EventDone:
					fmt.Fprintln(cmd.OutOrStdout())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "s", "", "continue an existing conversation")
	cmd.Flags().StringArrayVarP(&attachments, "attach", "a", nil, "attach a file or URL")
	return cmd
}
