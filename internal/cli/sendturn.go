package cli

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	inats "github.com/aiox-platform/companion/internal/nats"
)

func init() {
	var userText, assistantText string

	cmd := &cobra.Command{
		Use:   "send-turn <session-id>",
		Short: "Publish one exchange to the inbound turn subject",
		Long:  "Publishes a user/assistant exchange the way the voice transport does. Useful for replaying a conversation against a running consumer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userText == "" {
				return fmt.Errorf("--user is required")
			}
			client, err := inats.NewClient(cmd.Context(), cfg.NATS)
			if err != nil {
				return err
			}
			defer client.Close()

			now := time.Now().UTC()
			msg := inats.InboundTurn{
				RequestID:  ulid.Make().String(),
				SessionID:  args[0],
				User:       inats.TurnText{Transcript: userText, Timestamp: now},
				Assistant:  inats.TurnText{Transcript: assistantText, Timestamp: now},
				ReceivedAt: now,
			}
			if err := inats.NewPublisher(client.JetStream()).PublishInboundTurn(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.RequestID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userText, "user", "", "User transcript")
	cmd.Flags().StringVar(&assistantText, "assistant", "", "Assistant response")

	RootCmd.AddCommand(cmd)
}
