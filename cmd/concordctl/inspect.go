package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newQueryCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "query <job-id>",
		Short: "Print the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := queryJob(cmd.Context(), newAPIClient(flags.master, flags.timeout), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

// getAndPrint fetches path and pretty-prints the JSON body.
func getAndPrint(cmd *cobra.Command, base string, flags *globalFlags, path string) error {
	var out json.RawMessage
	if err := newAPIClient(base, flags.timeout).do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listPath(base string, limit, offset int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return base + "?" + q.Encode()
}

func newJobsCmd(flags *globalFlags) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "jobs [job-id]",
		Short: "List jobs on the master, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return getAndPrint(cmd, flags.master, flags, "/v1/jobs/"+url.PathEscape(args[0]))
			}
			return getAndPrint(cmd, flags.master, flags, listPath("/v1/jobs", limit, offset))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newTasksCmd(flags *globalFlags) *cobra.Command {
	var limit, offset int
	var logs bool
	cmd := &cobra.Command{
		Use:   "tasks [record-id]",
		Short: "List tasks on the cluster, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return getAndPrint(cmd, flags.cluster, flags, listPath("/v1/tasks", limit, offset))
			}
			path := "/v1/tasks/" + url.PathEscape(args[0])
			if logs {
				path += "/logs/history"
			}
			return getAndPrint(cmd, flags.cluster, flags, path)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().BoolVar(&logs, "logs", false, "print the task's log history")
	return cmd
}

func newPartiesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "parties",
		Short: "Show parties enrolled at the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, flags.coordinator, flags, "/v1/parties")
		},
	}
}
