package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loopmic",
	Short: "Relay an RTSP audio stream into an ALSA loopback microphone",
}

var socketPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "API socket path (default ~/.loopmic/loopmic.sock)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
