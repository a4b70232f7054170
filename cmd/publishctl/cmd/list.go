package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuongbtq/fanout-publisher/internal/api/dto"
)

func newListCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List publish jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var req dto.ListJobsRequest
			req.VideoHash, _ = flags.GetString("hash")
			req.Platform, _ = flags.GetString("platform")
			req.Status, _ = flags.GetString("status")
			req.PageSize, _ = flags.GetInt("limit")
			req.Cursor, _ = flags.GetString("cursor")

			client, err := clientFor(v)
			if err != nil {
				return err
			}

			resp, err := client.List(cmd.Context(), req)
			if err != nil {
				return err
			}

			if len(resp.Jobs) == 0 {
				cmd.Println("No jobs found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SUBMISSION ID\tPLATFORM\tSTATUS\tRETRIES\tCREATED\tTITLE")
			for _, job := range resp.Jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", job.SubmissionID, job.Platform, job.Status, job.RetryCount, job.CreatedAt, job.Title)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if resp.NextCursor != "" {
				cmd.Printf("\nMore jobs: --cursor %s\n", resp.NextCursor)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("hash", "", "Filter by video hash")
	flags.String("platform", "", "Filter by platform")
	flags.String("status", "", "Filter by status: PENDING, PROCESSING, COMPLETED, FAILED")
	flags.Int("limit", 0, "Page size (default 20, max 100)")
	flags.String("cursor", "", "Cursor from a previous page")
	return cmd
}
