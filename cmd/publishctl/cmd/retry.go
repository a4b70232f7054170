package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRetryCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [submission_id]",
		Short: "Re-queue a FAILED publish job",
		Long:  `Reset a FAILED job to PENDING and enqueue a fresh attempt. Jobs in any other status are rejected by the API.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(v)
			if err != nil {
				return err
			}

			resp, err := client.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cmd.Printf("✓ %s: %s\n", resp.SubmissionID, resp.Message)
			return nil
		},
	}
}
