package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tinytelemetry/rutrace/internal/ingest"
	"github.com/tinytelemetry/rutrace/internal/logsource"
	"github.com/tinytelemetry/rutrace/internal/model"
)

var parseJSON bool

var parseCmd = &cobra.Command{
	Use:   "parse [trace|archive|-]...",
	Short: "Parse trace files offline and print what they contain",
	Long: `Parse one or more RPC trace logs without a database. Compressed traces
and archives of traces are accepted; "-" or no argument reads standard input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}
		p := &offlineParser{
			engine:     engine,
			out:        cmd.OutOrStdout(),
			json:       parseJSON,
			maxSize:    cfg.MaxFileSize,
			maxNesting: cfg.MaxArchiveNesting,
			log:        logger,
		}
		return p.run(cmd.Context(), args)
	},
}

func init() {
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print every record as JSON instead of a summary")
}

// traceReport is what the offline command prints for one trace.
type traceReport struct {
	Name     string               `json:"name"`
	Counts   model.Counts         `json:"counts"`
	Error    string               `json:"error,omitempty"`
	Messages []model.Message      `json:"messages"`
	Errors   []model.ErrorEvent   `json:"errors"`
	Carriers []model.CarrierEvent `json:"carrier_events"`
}

type offlineParser struct {
	engine     *ingest.Engine
	out        io.Writer
	json       bool
	maxSize    int64
	maxNesting int
	log        *zap.Logger
}

func (p *offlineParser) run(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if len(args) == 0 {
		args = []string{"-"}
	}

	var reports []traceReport
	for _, arg := range args {
		rs, err := p.target(ctx, arg)
		if err != nil {
			return err
		}
		reports = append(reports, rs...)
	}

	if p.json {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			p.summary(r)
		}
	}

	var failed int
	for _, r := range reports {
		if r.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d traces failed to parse", failed, len(reports))
	}
	return nil
}

// target parses one command line argument, which may expand to several
// traces when it names an archive.
func (p *offlineParser) target(ctx context.Context, arg string) ([]traceReport, error) {
	if arg == "-" {
		return []traceReport{p.parse("stdin", logsource.OpenStdin(ctx))}, nil
	}
	if !logsource.IsArchive(arg) {
		f, err := logsource.Open(ctx, arg)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return []traceReport{p.parse(arg, f)}, nil
	}

	dir, err := os.MkdirTemp("", "rutrace-parse-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	members, err := logsource.Expand(ctx, arg, dir, logsource.ExpandOptions{
		MaxSize:    p.maxSize,
		MaxNesting: p.maxNesting,
		Skipped: func(name string, err error) {
			p.log.Warn("skipped archive member", zap.String("archive", arg), zap.String("member", name), zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", arg, err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%s: no trace files found", arg)
	}

	reports := make([]traceReport, 0, len(members))
	for _, m := range members {
		f, err := logsource.Open(ctx, m.Path)
		if err != nil {
			return nil, err
		}
		reports = append(reports, p.parse(filepath.Base(arg)+":"+m.Name, f))
		f.Close()
	}
	return reports, nil
}

func (p *offlineParser) parse(name string, src io.Reader) traceReport {
	sink := &ingest.MemorySink{}
	counts, err := p.engine.Parse(src, sink)
	r := traceReport{
		Name:     name,
		Counts:   counts,
		Messages: sink.Messages,
		Errors:   sink.Errors,
		Carriers: sink.Carriers,
	}
	if err != nil {
		r.Error = err.Error()
		if !errors.Is(err, context.Canceled) {
			p.log.Warn("parse failed", zap.String("trace", name), zap.Error(err))
		}
	}
	return r
}

func (p *offlineParser) summary(r traceReport) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	bold := lipgloss.NewStyle().Bold(true)

	var lines []string
	lines = append(lines, bold.Render(r.Name))
	lines = append(lines, fmt.Sprintf("  lines %s  messages %s  errors %s",
		cyan.Render(fmt.Sprint(r.Counts.Lines)),
		cyan.Render(fmt.Sprint(r.Counts.Messages)),
		cyan.Render(fmt.Sprint(r.Counts.Errors))))

	kinds := map[string]int{}
	var answered, total int
	var sum float64
	for _, m := range r.Messages {
		kinds[string(m.Kind)]++
		if m.Kind == model.KindRequest {
			total++
			if m.LatencyMS != nil {
				answered++
				sum += *m.LatencyMS
			}
		}
	}
	lines = append(lines, "  "+dim.Render("kinds ")+joinCounts(kinds))
	if answered > 0 {
		lines = append(lines, fmt.Sprintf("  %s %d/%d requests, avg %.1f ms", dim.Render("answered"), answered, total, sum/float64(answered)))
	}

	if len(r.Errors) > 0 {
		byKind := map[string]int{}
		for _, e := range r.Errors {
			byKind[string(e.Kind)]++
		}
		lines = append(lines, "  "+dim.Render("errors ")+joinCounts(byKind))
	}
	if len(r.Carriers) > 0 {
		byName := map[string]int{}
		for _, c := range r.Carriers {
			byName[c.CarrierName]++
		}
		lines = append(lines, "  "+dim.Render("carriers ")+joinCounts(byName))
	}
	if r.Error != "" {
		lines = append(lines, "  "+red.Render("failed: "+r.Error))
	}
	lines = append(lines, "")
	fmt.Fprintln(p.out, strings.Join(lines, "\n"))
}

func joinCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}
