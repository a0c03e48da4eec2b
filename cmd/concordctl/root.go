package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

var errMissingSubcommand = errors.New("missing subcommand")

type globalFlags struct {
	master      string
	coordinator string
	cluster     string
	timeout     time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "concordctl",
		Short:         "Submit and inspect federated jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return errMissingSubcommand
		},
	}
	root.PersistentFlags().StringVar(&flags.master, "master", "http://127.0.0.1:10002", "master HTTP address")
	root.PersistentFlags().StringVar(&flags.coordinator, "coordinator", "http://127.0.0.1:10004", "coordinator HTTP address")
	root.PersistentFlags().StringVar(&flags.cluster, "cluster", "http://127.0.0.1:10003", "cluster HTTP address")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "per-request timeout")

	root.AddCommand(
		newSubmitCmd(flags),
		newQueryCmd(flags),
		newJobsCmd(flags),
		newPartiesCmd(flags),
		newTasksCmd(flags),
	)
	return root
}
