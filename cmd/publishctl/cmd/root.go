package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultURL = "http://localhost:8080"

// NewRootCmd builds the publishctl command tree
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "publishctl",
		Short: "publishctl talks to the fanout publisher API",
		Long: `publishctl submits uploaded videos for publication and inspects publish jobs.

Common workflows:

  Publish one upload to several platforms:
    publishctl submit --hash 9f86d0 --key videos/9f86d0.mp4 --size 1048576 \
      --title "Launch" --platform youtube,vk,tiktok

  Check a job:
    publishctl status <submission-id>

  Re-queue a failed job:
    publishctl retry <submission-id>

Configuration:
  Flags, a config file ($HOME/.publishctl.yaml) or environment variables:
    FANOUT_URL      API endpoint (default: http://localhost:8080)
    FANOUT_TOKEN    Service token sent as X-Service-Token`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.publishctl.yaml)")
	flags.String("url", defaultURL, "Fanout API URL")
	flags.StringP("token", "t", "", "Service token")
	_ = v.BindPFlag("url", flags.Lookup("url"))
	_ = v.BindPFlag("token", flags.Lookup("token"))

	root.AddCommand(
		newSubmitCmd(v),
		newStatusCmd(v),
		newRetryCmd(v),
		newPlatformStatusCmd(v),
		newListCmd(v),
	)
	return root
}

func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".publishctl")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FANOUT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// clientFor builds an API client from the resolved url and token
func clientFor(v *viper.Viper) (*Client, error) {
	token := v.GetString("token")
	if token == "" {
		return nil, errors.New("service token not set: use --token or FANOUT_TOKEN")
	}
	return NewClient(v.GetString("url"), token), nil
}
