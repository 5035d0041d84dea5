package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benaskins/loopmic/internal/config"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath)
		if err != nil {
			return err
		}
		if !cfg.Configured() {
			fmt.Printf("%s: valid, but no rtsp_url set (daemon will wait for config)\n", validateConfigPath)
			return nil
		}

		a := cfg.Attributes.WithDefaults()
		fmt.Printf("%s: valid\n", validateConfigPath)
		fmt.Printf("  rtsp_url:            %s\n", a.RTSPURL)
		fmt.Printf("  ffmpeg_path:         %s\n", a.FFmpegPath)
		fmt.Printf("  max_restarts:        %d\n", a.MaxRestarts)
		fmt.Printf("  restart_cooldown:    %s\n", a.RestartCooldown.Duration)
		fmt.Printf("  reconcile_interval:  %s\n", a.ReconcileInterval.Duration)
		fmt.Printf("  stop_timeout:        %s\n", a.StopTimeout.Duration)
		fmt.Printf("  reconnect_delay_max: %d\n", a.ReconnectDelayMax)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.AddCommand(validateCmd)
}
