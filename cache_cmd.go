package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/oran3030/samply/internal/cache"
	"github.com/oran3030/samply/internal/library"
)

var (
	rawOut     bool
	outputFile string

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the sample cache",
		Args:  cobra.NoArgs,
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache usage",
		Args:  cobra.NoArgs,
		RunE: withStore(func(_ *cobra.Command, _ []string, _ *library.Service, store *cache.Store) error {
			writeStats(os.Stdout, store.Stats())
			return nil
		}),
	}

	cacheLsCmd = &cobra.Command{
		Use:   "ls [PATTERN]",
		Short: "List cached samples, optionally fuzzy matching PATTERN",
		Args:  cobra.MaximumNArgs(1),
		RunE: withStore(func(_ *cobra.Command, args []string, svc *library.Service, store *cache.Store) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			writeListing(os.Stdout, store, filterIDs(svc.IDs(), pattern), termWidth())
			return nil
		}),
	}

	cacheGetCmd = &cobra.Command{
		Use:   "get ID",
		Short: "Print the descriptor of a cached sample",
		Long:  paragraph(fmt.Sprintf("\nPrint the descriptor of a cached sample as JSON. With %s the cached audio is written instead.", keyword("--raw"))),
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(runCacheGet),
	}

	cacheRmCmd = &cobra.Command{
		Use:   "rm ID...",
		Short: "Remove samples from the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: withStore(func(cmd *cobra.Command, args []string, svc *library.Service, _ *cache.Store) error {
			for _, id := range args {
				removed, err := svc.Remove(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintln(os.Stderr, faint("not cached: "+id))
					continue
				}
				fmt.Println("Removed", keyword(id))
			}
			return nil
		}),
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached sample",
		Args:  cobra.NoArgs,
		RunE: withStore(func(_ *cobra.Command, _ []string, _ *library.Service, store *cache.Store) error {
			n := store.Stats().EntryCount
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Printf("Cleared %d entries\n", n)
			return nil
		}),
	}

	cacheCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired entries and enforce the size budget",
		Args:  cobra.NoArgs,
		RunE: withStore(func(_ *cobra.Command, _ []string, _ *library.Service, store *cache.Store) error {
			expired, err := store.CleanupExpired()
			if err != nil {
				return err
			}
			evicted, err := store.EnforceSizeBudget()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired and %d over-budget entries\n", expired, evicted)
			return nil
		}),
	}
)

// withStore opens the cache for the duration of a command.
func withStore(fn func(*cobra.Command, []string, *library.Service, *cache.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, store, err := openLibrary(false)
		if err != nil {
			return err
		}
		defer closeStore(store)
		return fn(cmd, args, svc, store)
	}
}

func runCacheGet(cmd *cobra.Command, args []string, svc *library.Service, _ *cache.Store) error {
	id := args[0]

	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("unable to create output file: %w", err)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}

	if rawOut {
		data, _, ok, err := svc.Raw(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("sample %q is not cached", id)
		}
		_, err = w.Write(data)
		return err
	}

	desc, ok, err := svc.Describe(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sample %q is not cached", id)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(desc)
}

// filterIDs returns the ids fuzzy matching pattern, best match first. An
// empty pattern returns ids unchanged.
func filterIDs(ids []string, pattern string) []string {
	if pattern == "" {
		return ids
	}
	matches := fuzzy.Find(pattern, ids)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Str
	}
	return out
}

func writeListing(w io.Writer, store *cache.Store, ids []string, width int) {
	if len(ids) == 0 {
		fmt.Fprintln(w, faint("No cached samples."))
		return
	}

	// id column gets whatever the size and age columns leave over
	idWidth := max(width-30, 12)
	for _, id := range ids {
		meta, ok := store.Metadata(library.SampleKey(id))
		if !ok {
			continue
		}
		name := truncate.StringWithTail(id, uint(idWidth), "…") //nolint:gosec
		fmt.Fprintf(w, "%s %10s  %s\n",
			keyword(fmt.Sprintf("%-*s", idWidth, name)),
			humanize.IBytes(meta.SizeBytes),
			faint(humanize.RelTime(meta.LastAccessedAt, time.Now(), "ago", "from now")))
	}
}

func writeStats(w io.Writer, st cache.Stats) {
	fmt.Fprintf(w, "%s%d\n", label("entries"), st.EntryCount)
	fmt.Fprintf(w, "%s%s of %s %s\n", label("size"),
		humanize.IBytes(st.TotalSize), humanize.IBytes(st.Budget),
		faint(fmt.Sprintf("(%.1f%%)", st.UtilizationPercent)))
	fmt.Fprintf(w, "%s%.1f%% %s\n", label("hit rate"), st.HitRate()*100,
		faint(fmt.Sprintf("(%d hits, %d misses)", st.Hits, st.Misses)))
	fmt.Fprintf(w, "%s%d evicted, %d expired\n", label("removed"), st.Evictions, st.Expired)
	if !st.LastCleanup.IsZero() {
		fmt.Fprintf(w, "%s%s\n", label("cleanup"), humanize.Time(st.LastCleanup))
	}
}

func init() {
	cacheGetCmd.Flags().BoolVar(&rawOut, "raw", false, "write the cached audio instead of the descriptor")
	cacheGetCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write to file instead of stdout")

	cacheCmd.AddCommand(cacheStatsCmd, cacheLsCmd, cacheGetCmd, cacheRmCmd, cacheClearCmd, cacheCleanupCmd)
}
