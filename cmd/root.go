package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"fortistash/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	log "github.com/sirupsen/logrus"
)

var cfgFile string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "fortistash",
	Short:   "Fortistash converts a firewall syslog stream into deduplicated JSON events",
	Long:    "Fortistash tails the firewall's active log file and its rotated siblings, parses each line into a structured event or a dead-letter record, and appends them to hour-bucketed JSONL sinks with crash-safe checkpointing",
	Version: version.RootCmdVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return readConfig()
	},
	RunE: RunIngest,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/fortistash/config.yaml)")
}

// readConfig reads in config file and ENV variables if set. Every knob has a
// default, so a missing config file is not an error: the agent runs with the
// reference paths and intervals out of the box.
func readConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigFile("/etc/fortistash/config.yaml")
	}

	viper.SetDefault("config_version", version.CfgVersion)
	viper.SetDefault("active_path", "/data/fortigate/fortigate.log")
	viper.SetDefault("parsed_dir", "/data/fortigate/parsed")
	viper.SetDefault("checkpoint_path", "")
	viper.SetDefault("flush_interval", "2s")
	viper.SetDefault("metrics_interval", "10s")
	viper.SetDefault("tail_slice", "2s")
	viper.SetDefault("poll_interval", "200ms")

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	err := viper.ReadInConfig()
	if err == nil {
		var cfgVersionOnDisk = viper.GetInt("config_version")
		if cfgVersionOnDisk != version.CfgVersion {
			return errors.New("Cannot use the given config file as it does not match fortistash's cfgversion. Wanted " + strconv.Itoa(version.CfgVersion) + " but found " + strconv.Itoa(cfgVersionOnDisk))
		}
	} else if cfgFile != "" {
		// An explicitly requested config file must exist.
		return err
	} else {
		log.Info("No config file available on local machine. Using defaults")
	}
	return nil
}
