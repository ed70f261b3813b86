package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chative-support/server/internal/agent/model"
	logx "github.com/chative-support/server/pkg/logger"
)

func newAskCmd(envFile *string) *cobra.Command {
	var (
		email          string
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer one query from the command line",
		Long:  "Routes a single query through the support graph on behalf of --email and prints the answer.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig(*envFile)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					logx.Error().Err(err).Msg("Error during shutdown")
				}
			}()

			if conversationID == "" {
				conversationID = uuid.NewString()
			}
			state := model.NewConversationState(conversationID, email, strings.Join(args, " "))
			out, err := a.runner.Run(cmd.Context(), state)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Answer)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "customer the query is asked for")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id for the transcript (default: random)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
