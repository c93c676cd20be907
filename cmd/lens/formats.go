package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the registered container formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := defaultRegistry()

			rows := make([][]string, 0, reg.Len())
			for _, b := range reg.Builders() {
				desc := b.Describe()
				rows = append(rows, []string{
					desc.Name,
					desc.Description,
					strings.Join(desc.Extensions, ", "),
					strings.Join(desc.MIME, ", "),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out,
				[]string{"NAME", "DESCRIPTION", "EXTENSIONS", "MIME"}, rows, nil))
			return nil
		},
	}
}
