package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/scrollback/internal/version"
)

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			build := version.Info()
			if !verbose {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", build.Module, version.Current())
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(build)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the full build description")
	return cmd
}
