package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: must be an integer", arg)
	}
	return id, nil
}

// remoteCmd builds a command that issues one request and prints the result.
func remoteCmd(opts *options, use, short, method, pathFormat string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			resp, err := newClient(opts).do(cmd.Context(), method, fmt.Sprintf(pathFormat, id))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Body)
		},
	}
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check truthd server health",
		Long: `Check the health status of the truthd HTTP server.

Examples:
  truthctl health
  truthctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient(opts).do(cmd.Context(), http.MethodGet, "/health")
			if err != nil {
				return err
			}
			var health struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(resp.Body, &health); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", health.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", opts.serverURL)
			return nil
		},
	}
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <turn-id>",
		Short: "Run extraction over a turn without building a PR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			resp, err := newClient(opts).do(cmd.Context(), http.MethodPost, fmt.Sprintf("/analyze/turn/%d", id))
			if err != nil {
				return err
			}
			if resp.Header.Get("X-Input-Truncated") == "true" {
				fmt.Fprintln(cmd.ErrOrStderr(), "[truthctl] turn text was truncated before extraction")
			}
			return printJSON(cmd.OutOrStdout(), resp.Body)
		},
	}
}

func newPRCmd(opts *options) *cobra.Command {
	pr := &cobra.Command{
		Use:   "pr",
		Short: "Build, inspect and merge knowledge PRs",
		Long: `Knowledge PR commands.

Examples:
  # Build a PR from turn 12, then check and route it
  truthctl pr build 12
  truthctl pr conflicts 1
  truthctl pr route 1

  # Review and merge
  truthctl pr show 1
  truthctl pr merge 1`,
	}
	pr.AddCommand(
		remoteCmd(opts, "build <turn-id>", "Build a knowledge PR from a turn", http.MethodPost, "/kpr/from_turn/%d"),
		remoteCmd(opts, "show <pr-id>", "Show a PR and its changes", http.MethodGet, "/kpr/%d"),
		remoteCmd(opts, "conflicts <pr-id>", "Run conflict detection for a PR", http.MethodPost, "/kpr/%d/run_conflicts"),
		remoteCmd(opts, "route <pr-id>", "Recompute a PR's stakeholders", http.MethodPost, "/kpr/%d/route"),
		remoteCmd(opts, "stakeholders <pr-id>", "List a PR's stakeholders", http.MethodGet, "/kpr/%d/stakeholders"),
		remoteCmd(opts, "trace <pr-id>", "Show per-stage progress for a PR", http.MethodGet, "/kpr/%d/trace"),
		remoteCmd(opts, "merge <pr-id>", "Merge a PR into the knowledge base", http.MethodPost, "/kpr/%d/merge"),
	)
	return pr
}

func newGraphCmd(opts *options) *cobra.Command {
	graph := &cobra.Command{
		Use:       "graph <comms|knowledge>",
		Short:     "Print the communication or knowledge graph",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"comms", "knowledge"},
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient(opts).do(cmd.Context(), http.MethodGet, "/graph/"+args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Body)
		},
	}
	return graph
}
