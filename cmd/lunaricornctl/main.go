// Command lunaricornctl is an operator CLI for exercising the cluster,
// signaling, and object-store APIs from a terminal (SPEC_FULL.md §5): a
// supplemented feature with no equivalent HTTP-only client in the original.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unicornparson/lunaricorn/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "lunaricornctl",
	Short:   "Operate a Lunaricorn cluster from the command line",
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(clusterCmd, signalingCmd, orbCmd)
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Talk to the cluster registrar",
}

var clusterBeaconCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Send a single liveness beacon",
	RunE: func(cmd *cobra.Command, args []string) error {
		leader, _ := cmd.Flags().GetString("leader")
		name, _ := cmd.Flags().GetString("name")
		typ, _ := cmd.Flags().GetString("type")
		key, _ := cmd.Flags().GetString("key")

		body := map[string]any{"node_name": name, "node_type": typ, "instance_key": key}
		var out map[string]any
		if err := postJSON(leader+"/v1/imalive", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live cluster nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		leader, _ := cmd.Flags().GetString("leader")
		var out map[string]any
		if err := getJSON(leader+"/v1/list", &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show cluster readiness detail",
	RunE: func(cmd *cobra.Command, args []string) error {
		leader, _ := cmd.Flags().GetString("leader")
		var out map[string]any
		if err := getJSON(leader+"/v1/clusterinfo", &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	clusterCmd.AddCommand(clusterBeaconCmd, clusterListCmd, clusterInfoCmd)
	for _, c := range []*cobra.Command{clusterBeaconCmd, clusterListCmd, clusterInfoCmd} {
		c.Flags().String("leader", "http://localhost:8000", "leader (registrar) base URL")
	}
	clusterBeaconCmd.Flags().String("name", "", "node_name (required)")
	clusterBeaconCmd.Flags().String("type", "", "node_type (required)")
	clusterBeaconCmd.Flags().String("key", "", "instance_key (required)")
	_ = clusterBeaconCmd.MarkFlagRequired("name")
	_ = clusterBeaconCmd.MarkFlagRequired("type")
	_ = clusterBeaconCmd.MarkFlagRequired("key")
}

var signalingCmd = &cobra.Command{
	Use:   "signaling",
	Short: "Talk to the signaling bus",
}

var signalingPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push an event onto the signaling bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		hub, _ := cmd.Flags().GetString("hub")
		eventType, _ := cmd.Flags().GetString("type")
		message, _ := cmd.Flags().GetString("message")
		source, _ := cmd.Flags().GetString("source")

		body := map[string]any{
			"event_type": eventType,
			"message":    json.RawMessage(message),
			"source":     source,
		}
		var out map[string]any
		if err := postJSON(hub+"/v1/push", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var signalingBrowseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse recent events",
	RunE: func(cmd *cobra.Command, args []string) error {
		hub, _ := cmd.Flags().GetString("hub")
		since, _ := cmd.Flags().GetInt64("since")
		limit, _ := cmd.Flags().GetInt("limit")

		body := map[string]any{"timestamp": since, "limit": limit}
		var out []any
		if err := postJSON(hub+"/v1/browse", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	signalingCmd.AddCommand(signalingPushCmd, signalingBrowseCmd)
	for _, c := range []*cobra.Command{signalingPushCmd, signalingBrowseCmd} {
		c.Flags().String("hub", "http://localhost:8100", "signaling hub base URL")
	}
	signalingPushCmd.Flags().String("type", "", "event_type (required)")
	signalingPushCmd.Flags().String("message", "{}", "JSON message payload")
	signalingPushCmd.Flags().String("source", "", "event source")
	_ = signalingPushCmd.MarkFlagRequired("type")

	signalingBrowseCmd.Flags().Int64("since", time.Now().Add(-1*time.Hour).Unix(), "unix timestamp to browse from")
	signalingBrowseCmd.Flags().Int("limit", 20, "maximum events to return")
}

var orbCmd = &cobra.Command{
	Use:   "orb",
	Short: "Talk to the object store",
}

var orbPushDataCmd = &cobra.Command{
	Use:   "push-data",
	Short: "Push a JSON object into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("orb")
		data, _ := cmd.Flags().GetString("data")
		source, _ := cmd.Flags().GetString("source")

		body := map[string]any{"data": json.RawMessage(data), "src": source}
		var out map[string]any
		if err := postJSON(addr+"/v1/push_data", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var orbFetchDataCmd = &cobra.Command{
	Use:   "fetch-data UUID",
	Short: "Fetch a stored object by uuid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("orb")
		var out map[string]any
		if err := getJSON(addr+"/v1/fetch_data/"+args[0], &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	orbCmd.AddCommand(orbPushDataCmd, orbFetchDataCmd)
	for _, c := range []*cobra.Command{orbPushDataCmd, orbFetchDataCmd} {
		c.Flags().String("orb", "http://localhost:8200", "orb service base URL")
	}
	orbPushDataCmd.Flags().String("data", "{}", "JSON data payload")
	orbPushDataCmd.Flags().String("source", "", "object source")
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func getJSON(url string, out any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func postJSON(url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
