package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/oran3030/samply/internal/analysis"
	"github.com/oran3030/samply/internal/library"
)

var (
	asJSON  bool
	copyOut bool
	noCache bool
	jobs    int

	analyzeCmd = &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Analyse audio samples and cache them",
		Long: paragraph(fmt.Sprintf("\n%s one or more WAV files. Each file is cached under its base name unless --no-cache is given. Use - to read a single sample from stdin.",
			keyword("Analyse"))),
		Example: paragraph("samply analyze kick.wav snare.wav\nsamply analyze --json --copy loops/*.wav\ncat pad.wav | samply analyze -"),
		Args:    cobra.MinimumNArgs(1),
		RunE:    runAnalyze,
	}
)

// analysisReport is the JSON form of one analysed sample.
type analysisReport struct {
	ID         string                      `json:"id"`
	Descriptor *analysis.FeatureDescriptor `json:"descriptor,omitempty"`
	Cached     bool                        `json:"cached"`
	Error      string                      `json:"error,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	items, err := readItems(args, os.Stdin)
	if err != nil {
		return err
	}

	svc, store, err := openLibrary(noCache)
	if err != nil {
		return err
	}
	defer closeStore(store)

	results, err := svc.IngestAll(cmd.Context(), items, jobs)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if asJSON {
		err = writeJSON(&out, results)
	} else {
		writeReports(&out, results)
	}
	if err != nil {
		return err
	}

	if _, err := io.Copy(os.Stdout, &out); err != nil {
		return fmt.Errorf("unable to write output: %w", err)
	}
	if copyOut {
		if err := clipboard.WriteAll(out.String()); err != nil {
			log.Warn("Could not copy to clipboard", "err", err)
		}
	}

	if n := countFailed(results); n > 0 {
		return fmt.Errorf("%d of %d samples failed", n, len(results))
	}
	return nil
}

// readItems reads every argument into an Item. "-" reads from stdin.
func readItems(args []string, stdin io.Reader) ([]library.Item, error) {
	items := make([]library.Item, 0, len(args))
	for _, arg := range args {
		if arg == "-" {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("unable to read from stdin: %w", err)
			}
			items = append(items, library.Item{ID: "stdin", Data: data})
			continue
		}

		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("unable to open file: %w", err)
		}
		items = append(items, library.Item{ID: sampleID(arg), Data: data})
	}
	return items, nil
}

// sampleID names a sample after its file, without directory or extension.
func sampleID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func writeJSON(w io.Writer, results []library.BatchResult) error {
	reports := make([]analysisReport, len(results))
	for i, r := range results {
		reports[i] = analysisReport{ID: r.ID, Cached: r.CachedRaw}
		if r.Err != nil {
			reports[i].Error = r.Err.Error()
			continue
		}
		desc := r.Descriptor
		reports[i].Descriptor = &desc
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("unable to encode results: %w", err)
	}
	return nil
}

func writeReports(w io.Writer, results []library.BatchResult) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s  %s\n", keyword(r.ID), errorText(r.Err.Error()))
			continue
		}
		fmt.Fprintln(w, keyword(r.ID))
		writeDescriptor(w, r.Descriptor)
		if !r.CachedRaw {
			fmt.Fprintln(w, faint("  not cached"))
		}
		fmt.Fprintln(w)
	}
}

func writeDescriptor(w io.Writer, d analysis.FeatureDescriptor) {
	fmt.Fprintf(w, "  %s%s\n", label("category"), d.Category)
	fmt.Fprintf(w, "  %s%s\n", label("key"), d.Key)
	fmt.Fprintf(w, "  %s%.1f bpm\n", label("tempo"), d.TempoBPM)
	fmt.Fprintf(w, "  %s%.2fs\n", label("duration"), d.DurationSeconds)
	fmt.Fprintf(w, "  %s%.3f %s\n", label("loudness"), d.Loudness, faint(fmt.Sprintf("(rms %.3f)", d.RMS)))
	fmt.Fprintf(w, "  %s%s\n", label("centroid"), humanize.SIWithDigits(d.SpectralCentroid, 1, "Hz"))
	fmt.Fprintf(w, "  %s%.3f\n", label("zcr"), d.ZeroCrossingRate)
	fmt.Fprintf(w, "  %s%s\n", label("waveform"), sparkline(d.Waveform, 48))
}

var sparks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders up to width waveform points as block characters.
func sparkline(points []float64, width int) string {
	if len(points) == 0 || width <= 0 {
		return ""
	}
	step := max(1, len(points)/width)

	var sb strings.Builder
	for i := 0; i+step <= len(points); i += step {
		peak := 0.0
		for _, p := range points[i : i+step] {
			peak = max(peak, p)
		}
		idx := int(peak * float64(len(sparks)-1))
		sb.WriteRune(sparks[min(max(idx, 0), len(sparks)-1)])
	}
	return sb.String()
}

func countFailed(results []library.BatchResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func init() {
	analyzeCmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	analyzeCmd.Flags().BoolVar(&copyOut, "copy", false, "copy the output to the clipboard")
	analyzeCmd.Flags().BoolVar(&noCache, "no-cache", false, "analyse without caching")
	analyzeCmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "number of samples analysed concurrently")
}
