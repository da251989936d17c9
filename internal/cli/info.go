package cli

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/freeeve/framestore/internal/store"
)

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show frame range and statistics of a store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(rootOpts, cmd)
			if err != nil {
				return err
			}
			return store.With(e.openStore, func(s store.FramewiseStore) error {
				frames, err := s.Frames()
				if err != nil {
					return err
				}
				first, last := store.NoFrame, store.NoFrame
				if len(frames) > 0 {
					first, last = frames[0], frames[len(frames)-1]
				}
				st := s.Stats()

				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"property", "value"})
				table.AppendBulk([][]string{
					{"path", e.cfg.Store.Path},
					{"backend", store.BackendFor(e.cfg.StoreOptions(e.log))},
					{"tcolumn", s.TColumn()},
					{"frames", strconv.Itoa(len(frames))},
					{"first frame", strconv.Itoa(first)},
					{"last frame", strconv.Itoa(last)},
					{"file bytes", strconv.FormatInt(st.FileBytes, 10)},
					{"dead bytes", strconv.FormatInt(st.DeadBytes, 10)},
				})
				switch bs := s.(type) {
				case *store.FileStore:
					h := bs.Header()
					table.Append([]string{"id", h.ID.String()})
					table.Append([]string{"compression", h.Compression.String()})
					table.Append([]string{"format version", fmt.Sprint(h.Version)})
				case *store.SQLiteStore:
					table.Append([]string{"id", bs.ID().String()})
				}
				table.Render()
				return nil
			})
		},
	}
}
