package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuongbtq/fanout-publisher/internal/api/dto"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status [submission_id]",
		Short: "Show a publish job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(v)
			if err != nil {
				return err
			}

			job, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			printJob(cmd, job)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job *dto.JobDTO) {
	cmd.Printf("%s %sPublish Job%s\n", statusIcon(job.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.SubmissionID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sPlatform:%s    %s\n", colorDim, colorReset, job.Platform)
	cmd.Printf("%sTitle:%s       %s\n", colorDim, colorReset, job.Title)
	cmd.Printf("%sRetries:%s     %d\n", colorDim, colorReset, job.RetryCount)

	if job.PlatformJobID != nil {
		cmd.Printf("%sPlatform ID:%s %s\n", colorDim, colorReset, *job.PlatformJobID)
	}
	if job.PublicURL != nil {
		url := *job.PublicURL
		if job.PublicURLProvisional {
			url += " (provisional)"
		}
		cmd.Printf("%sURL:%s         %s\n", colorDim, colorReset, url)
	}
	if job.ErrorMessage != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *job.ErrorMessage, colorReset)
	}

	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, job.CreatedAt)
	if job.PublishedAt != nil {
		cmd.Printf("%sPublished:%s   %s\n", colorDim, colorReset, *job.PublishedAt)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "COMPLETED":
		return colorGreen + "✓" + colorReset
	case "FAILED":
		return colorRed + "✗" + colorReset
	case "PROCESSING":
		return colorYellow + "⏳" + colorReset
	case "PENDING":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	switch status {
	case "COMPLETED":
		return statusIcon(status) + " " + colorGreen + status + colorReset
	case "FAILED":
		return statusIcon(status) + " " + colorRed + status + colorReset
	case "PROCESSING":
		return statusIcon(status) + " " + colorYellow + status + colorReset
	case "PENDING":
		return statusIcon(status) + " " + colorCyan + status + colorReset
	default:
		return status
	}
}
