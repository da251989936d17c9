package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freeeve/framestore/internal/store"
)

// compacter is implemented by stores that can reclaim superseded records.
type compacter interface {
	Compact() error
}

func compactStore(s store.FramewiseStore) error {
	c, ok := s.(compacter)
	if !ok {
		return nil
	}
	return c.Compact()
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the store keeping only live frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(rootOpts, cmd)
			if err != nil {
				return err
			}
			return store.With(e.openStore, func(s store.FramewiseStore) error {
				before := s.Stats()
				if err := compactStore(s); err != nil {
					return err
				}
				after := s.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "compacted %s: %d -> %d bytes\n", e.cfg.Store.Path, before.FileBytes, after.FileBytes)
				return nil
			})
		},
	}
}
