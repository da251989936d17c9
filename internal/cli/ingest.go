package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/freeeve/framestore/internal/ingest"
	"github.com/freeeve/framestore/internal/store"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Import feature CSV files (.csv, .csv.zst) into the store",
		Long: `Import feature CSV files into the store, one frame at a time.

Every file is split by the store's time column. Frames already present
are replaced, so later files win.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(rootOpts, cmd, args, compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "compact the store afterwards")
	return cmd
}

func runIngest(opts *RootOptions, cmd *cobra.Command, files []string, compact bool) error {
	e, err := setup(opts, cmd)
	if err != nil {
		return err
	}
	return store.With(e.openStore, func(s store.FramewiseStore) error {
		bar := newProgress(progressOut(opts, cmd.ErrOrStderr()), len(files), "[ingesting]")
		var total ingest.Result
		for _, path := range files {
			res, err := ingest.IngestFile(cmd.Context(), path, s)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", filepath.Base(path), err)
			}
			total.Frames += res.Frames
			total.Rows += res.Rows
			_ = bar.Add(1)
		}
		_ = bar.Finish()
		if err := s.Flush(); err != nil {
			return err
		}
		if compact {
			if err := compactStore(s); err != nil {
				return err
			}
		}
		e.log.Info().Int("files", len(files)).Int("frames", total.Frames).Int("rows", total.Rows).Msg("ingest complete")
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d frames (%d rows) from %d files\n", total.Frames, total.Rows, len(files))
		return nil
	})
}
