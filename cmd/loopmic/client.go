package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/loopmic/internal/sensor"
)

func apiClient() *http.Client {
	sock := resolveSocketPath("")
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", sock)
			},
		},
	}
}

func apiGet(path string, v any) error {
	resp, err := apiClient().Get("http://loopmic" + path)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is loopmic daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func apiPost(path string, body any) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := apiClient().Post("http://loopmic"+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w (is loopmic daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func fetchReadings() (map[string]any, error) {
	var readings map[string]any
	if err := apiGet("/v1/readings", &readings); err != nil {
		return nil, err
	}
	return readings, nil
}

func sendCommand(name string) (map[string]any, error) {
	return apiPost("/v1/command", map[string]string{"command": name})
}

var readingsJSON bool

var readingsCmd = &cobra.Command{
	Use:   "readings",
	Short: "Show current stream readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		readings, err := fetchReadings()
		if err != nil {
			return err
		}

		if readingsJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(readings)
		}

		fmt.Println(renderReadings(readings, defaultTheme()))
		return nil
	},
}

var commandCmd = &cobra.Command{
	Use:       "command <name>",
	Short:     "Send a command to the stream",
	Long:      "Send a command to the stream. Known commands: " + strings.Join(sensor.Commands, ", "),
	Args:      cobra.ExactArgs(1),
	ValidArgs: sensor.Commands,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := sendCommand(args[0])
		if err != nil {
			return err
		}
		if msg, ok := result["error"]; ok {
			return fmt.Errorf("%v", msg)
		}

		keys := make([]string, 0, len(result))
		for k := range result {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Printf("%s: %s\n", k, formatValue(result[k]))
		}
		return nil
	},
}

func init() {
	readingsCmd.Flags().BoolVar(&readingsJSON, "json", false, "Print readings as JSON")
	rootCmd.AddCommand(readingsCmd)
	rootCmd.AddCommand(commandCmd)
}
