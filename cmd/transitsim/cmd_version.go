package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/transitsim/internal/constants"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), format)
			if format == constants.FormatJSON {
				return p.JSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
				})
			}
			fmt.Fprintf(p.w, "transitsim version %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
