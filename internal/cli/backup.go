package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freeeve/framestore/internal/archive"
	"github.com/freeeve/framestore/internal/config"
	"github.com/freeeve/framestore/internal/store"
)

// openArchive connects to the configured bucket. Tests replace it.
var openArchive = func(cfg config.Config) (archive.Archive, error) {
	return archive.Dial(cfg.ArchiveOptions())
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [name]",
		Short: "Compact the store and upload it to the archive bucket",
		Long: `Compact the store and upload its file to the archive bucket.

The object name defaults to the store file's base name. The store must not
be open in another process.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(rootOpts, cmd)
			if err != nil {
				return err
			}
			a, err := openArchive(e.cfg)
			if err != nil {
				return err
			}
			// Compact and close first so the file on disk is complete.
			if err := store.With(e.openStore, compactStore); err != nil {
				return err
			}
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			info, err := archive.Backup(cmd.Context(), a, e.cfg.Store.Path, name)
			if err != nil {
				return err
			}
			e.log.Info().Str("name", info.Name).Str("kind", info.Kind).Int64("bytes", info.Size).Msg("backup uploaded")
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%s, %d bytes)\n", info.Name, info.Kind, info.Size)
			return nil
		},
	}
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <name>",
		Short: "Download an archived store to the store path",
		Long: `Download an archived store file to the path given by --store.

An existing file at that path is never replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(rootOpts, cmd)
			if err != nil {
				return err
			}
			if e.cfg.Store.Path == "" {
				return fmt.Errorf("no store path: set --store or store.path")
			}
			a, err := openArchive(e.cfg)
			if err != nil {
				return err
			}
			info, err := archive.Restore(cmd.Context(), a, args[0], e.cfg.Store.Path)
			if err != nil {
				return err
			}
			e.log.Info().Str("name", info.Name).Str("path", e.cfg.Store.Path).Msg("store restored")
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s (%d bytes)\n", info.Name, e.cfg.Store.Path, info.Size)
			return nil
		},
	}
}

// NewArchivesCommand creates the archives command.
func NewArchivesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "archives [prefix]",
		Short: "List archived stores",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(rootOpts, cmd)
			if err != nil {
				return err
			}
			a, err := openArchive(e.cfg)
			if err != nil {
				return err
			}
			var prefix string
			if len(args) == 1 {
				prefix = args[0]
			}
			names, err := a.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
