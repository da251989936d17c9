package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/freeeve/framestore/internal/frame"
	"github.com/freeeve/framestore/internal/store"
)

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		n      int
		format string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the first n frames as one table",
		Long: `Print the first n frames concatenated into one table.

The whole result is held in memory; keep n small on large stores.
Use -n 0 to print every frame.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "csv" && format != "table" {
				return fmt.Errorf("invalid format %q: must be csv or table", format)
			}
			e, err := setup(rootOpts, cmd)
			if err != nil {
				return err
			}
			return store.With(e.openStore, func(s store.FramewiseStore) error {
				t, err := s.Dump(n)
				if err != nil {
					return err
				}
				if format == "csv" {
					return frame.WriteCSV(cmd.OutOrStdout(), t)
				}
				renderTable(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 10, "number of frames (0 = all)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv|table)")
	return cmd
}

func renderTable(w io.Writer, t *frame.Table) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(t.Columns())
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		table.Append(cells)
	}
	table.Render()
}
