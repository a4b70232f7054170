package cmd

import (
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPlatformStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "platform-status [submission_id]",
		Short: "Ask the platform about a published video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(v)
			if err != nil {
				return err
			}

			status, err := client.PlatformStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cmd.Printf("%s %s: %s\n", status.Platform, status.PlatformJobID, status.State)

			keys := make([]string, 0, len(status.Detail))
			for k := range status.Detail {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				cmd.Printf("  %s: %v\n", k, status.Detail[k])
			}
			return nil
		},
	}
}
