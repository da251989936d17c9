package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/freeeve/framestore/internal/link"
	"github.com/freeeve/framestore/internal/spatial"
	"github.com/freeeve/framestore/internal/store"
)

// LinkOptions holds the link command flags. Zero values keep the config.
type LinkOptions struct {
	Dst         string
	SearchRange float64
	Memory      int
	Strategy    string
	Predictor   string
	PosColumns  []string
}

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LinkOptions{}
	cmd := &cobra.Command{
		Use:   "link [--dst <store>]",
		Short: "Link features across frames, in place or into another store",
		Long: `Link features across frames into trajectories.

Frames are read one at a time from the store given by --store and written
back with a particle column added. With --dst naming a different store the
linked frames go there instead and the source is left untouched. Only the
tracks active within the last memory+1 frames are held in memory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Dst, "dst", "o", "", "destination store path (default: link in place)")
	cmd.Flags().Float64VarP(&opts.SearchRange, "search-range", "r", 0, "maximum displacement between frames")
	cmd.Flags().IntVarP(&opts.Memory, "memory", "m", -1, "frames a track may vanish and still be continued")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "neighbour search (kdtree|brute)")
	cmd.Flags().StringVar(&opts.Predictor, "predictor", "", "position predictor (none|velocity)")
	cmd.Flags().StringSliceVar(&opts.PosColumns, "pos-columns", nil, "position columns (default x,y)")
	return cmd
}

func (o *LinkOptions) apply(lc *link.Config) error {
	if o.SearchRange != 0 {
		lc.SearchRange = o.SearchRange
	}
	if o.Memory >= 0 {
		lc.Memory = o.Memory
	}
	if o.Strategy != "" {
		s, err := spatial.ParseStrategy(o.Strategy)
		if err != nil {
			return err
		}
		lc.Strategy = s
	}
	if o.Predictor != "" {
		p, err := link.ParsePredictor(o.Predictor)
		if err != nil {
			return err
		}
		lc.Predictor = p
	}
	if len(o.PosColumns) > 0 {
		lc.PosColumns = o.PosColumns
	}
	return nil
}

func runLink(rootOpts *RootOptions, opts *LinkOptions, cmd *cobra.Command) error {
	e, err := setup(rootOpts, cmd)
	if err != nil {
		return err
	}
	lc := e.cfg.LinkerOptions(e.log.With().Str("component", "link").Logger())
	if err := opts.apply(&lc); err != nil {
		return err
	}
	linker, err := link.New(lc)
	if err != nil {
		return err
	}

	dstPath := opts.Dst
	if dstPath != "" {
		if dstPath, err = homedir.Expand(dstPath); err != nil {
			return err
		}
	}
	// Two handles on one file each keep their own key directory, and the
	// one closed last would compact the other's writes away.
	inPlace := dstPath == "" || sameFile(e.cfg.Store.Path, dstPath)

	return store.With(e.openStore, func(src store.FramewiseStore) error {
		if inPlace {
			e.log.Debug().Str("store", e.cfg.Store.Path).Msg("linking in place")
			return linkFrames(rootOpts, cmd, e, linker, src, src)
		}
		openDst := func() (store.FramewiseStore, error) {
			sc := e.cfg.StoreOptions(e.log.With().Str("component", "store").Str("role", "dst").Logger())
			sc.Path = dstPath
			sc.Backend = ""
			return store.Open(sc)
		}
		return store.With(openDst, func(dst store.FramewiseStore) error {
			if src.TColumn() != dst.TColumn() {
				return fmt.Errorf("time column mismatch: src %q, dst %q", src.TColumn(), dst.TColumn())
			}
			return linkFrames(rootOpts, cmd, e, linker, src, dst)
		})
	})
}

func linkFrames(rootOpts *RootOptions, cmd *cobra.Command, e *env, linker *link.Linker, src, dst store.FramewiseStore) error {
	it, err := src.Iterator()
	if err != nil {
		return err
	}
	bar := newProgress(progressOut(rootOpts, cmd.ErrOrStderr()), it.Remaining(), "[linking]")
	n, err := linker.LinkStore(cmd.Context(), it, progressPutter{Putter: dst, bar: bar})
	_ = bar.Finish()
	if err != nil {
		return err
	}
	e.log.Info().Int("frames", n).Int("tracks", linker.NextID()).Msg("link complete")
	fmt.Fprintf(cmd.OutOrStdout(), "linked %d frames into %d tracks\n", n, linker.NextID())
	return nil
}

// sameFile reports whether a and b name the same store file. Paths that do
// not exist yet are compared in absolute form.
func sameFile(a, b string) bool {
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	if errA == nil && errB == nil {
		return os.SameFile(ai, bi)
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
