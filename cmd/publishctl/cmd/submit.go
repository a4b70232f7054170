package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuongbtq/fanout-publisher/internal/api/dto"
)

func newSubmitCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish an uploaded video to one or more platforms",
		Long: `Submit one publish job per platform for a video already stored in the bucket.

Submitting the same video hash to the same platform again returns the existing
job unless that job has FAILED.

Example:
  publishctl submit --hash 9f86d0 --key videos/9f86d0.mp4 --size 1048576 \
    --title "Launch" --tags go,release --platform youtube,vk --as-clip`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			hash, _ := flags.GetString("hash")
			key, _ := flags.GetString("key")
			size, _ := flags.GetInt64("size")
			title, _ := flags.GetString("title")
			platforms, _ := flags.GetStringSlice("platform")
			tags, _ := flags.GetStringSlice("tags")

			if hash == "" || key == "" || title == "" || size <= 0 {
				return errors.New("--hash, --key, --size and --title are required")
			}
			if len(platforms) == 0 {
				return errors.New("--platform is required")
			}

			client, err := clientFor(v)
			if err != nil {
				return err
			}

			req := dto.SubmitRequest{
				VideoHash:  hash,
				StorageKey: key,
				FileSize:   size,
				Title:      title,
				Tags:       tags,
			}
			if flags.Changed("duration") {
				duration, _ := flags.GetInt64("duration")
				req.Duration = &duration
			}
			if flags.Changed("description") {
				description, _ := flags.GetString("description")
				req.Description = &description
			}
			req.Options.Privacy, _ = flags.GetString("privacy")
			req.Options.AsClip = optionalBool(cmd, "as-clip")
			req.Options.DisableDuet = optionalBool(cmd, "disable-duet")
			req.Options.DisableComment = optionalBool(cmd, "disable-comment")
			req.Options.DisableStitch = optionalBool(cmd, "disable-stitch")

			var failed []string
			for _, p := range platforms {
				req.Platform = strings.TrimSpace(p)
				resp, err := client.Submit(cmd.Context(), req)
				if err != nil {
					cmd.Printf("✗ %s: %v\n", req.Platform, err)
					failed = append(failed, req.Platform)
					continue
				}
				note := "queued"
				if resp.Duplicate {
					note = "existing job, " + resp.JobStatus
				}
				cmd.Printf("✓ %s: %s (%s)\n", req.Platform, resp.SubmissionID, note)
			}

			if len(failed) > 0 {
				return fmt.Errorf("submission failed for %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("hash", "", "Content hash of the video (required)")
	flags.String("key", "", "Object key of the uploaded video (required)")
	flags.Int64("size", 0, "File size in bytes (required)")
	flags.Int64("duration", 0, "Duration in seconds")
	flags.String("title", "", "Video title (required)")
	flags.String("description", "", "Video description")
	flags.StringSlice("tags", nil, "Comma separated tags")
	flags.StringSliceP("platform", "p", nil, "Target platforms: youtube, vk, tiktok (required)")
	flags.String("privacy", "", "Privacy setting passed to the platform, e.g. unlisted or SELF_ONLY")
	flags.Bool("as-clip", false, "VK: publish as a clip")
	flags.Bool("disable-duet", false, "TikTok: disable duets")
	flags.Bool("disable-comment", false, "TikTok: disable comments")
	flags.Bool("disable-stitch", false, "TikTok: disable stitches")
	return cmd
}

// optionalBool returns nil unless the flag was set on the command line
func optionalBool(cmd *cobra.Command, name string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetBool(name)
	return &v
}
