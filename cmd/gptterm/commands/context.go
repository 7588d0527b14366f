package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"gptterm/internal/journal"
)

func newContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the stored conversation context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			n := 0
			for entry, err := range s.store.Entries() {
				if err != nil {
					return err
				}
				n++
				fmt.Fprintf(out, "%s\t%s\n", entry.Role, entry.Content)
			}
			if n == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "context is empty")
			}
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the location of the context file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cfg.ContextPath())
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Erase the stored context",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				s, err := openSession(cmd.Context(), cfg, false)
				if err != nil {
					return err
				}
				defer s.Close()
				if err := s.store.Reset(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "context cleared")
				return nil
			},
		},
	)
	return cmd
}

func newCompactCmd() *cobra.Command {
	var onlyIfNeeded bool
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact the context down to its critical records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer s.Close()

			compactFn := s.compactor.Compact
			if onlyIfNeeded {
				compactFn = s.compactor.MaybeCompact
			}
			res, err := compactFn(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Compacted {
				fmt.Fprintf(out, "context has %d records, nothing to do\n", res.Before)
				return nil
			}
			fmt.Fprintf(out, "compacted %d -> %d records (%d critical kept, ~%d tokens saved)\n",
				res.Before, res.After, res.Retained, res.TokensSaved)

			if s.journal != nil {
				if err := s.journal.RecordCompaction(ctx, journal.CompactionEvent{
					Before:      res.Before,
					After:       res.After,
					Collected:   res.Collected,
					Retained:    res.Retained,
					TokensSaved: res.TokensSaved,
					DurationMs:  res.Duration.Milliseconds(),
					Reason:      "cli",
				}); err != nil {
					s.logger.Printf("journal: %v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&onlyIfNeeded, "if-needed", false, "Only compact above the eviction threshold")
	return cmd
}
