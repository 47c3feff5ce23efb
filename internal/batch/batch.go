package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manash/cardgen/internal/generator"
	"github.com/manash/cardgen/internal/image"
	"github.com/manash/cardgen/pkg/models"
)

// CardGenerator turns one photo into a card and returns the result URL.
type CardGenerator interface {
	GenerateCard(ctx context.Context, photo *models.Photo, style models.StylePreset) (string, error)
}

// Saver writes a result URL to disk and returns the final path.
type Saver interface {
	Save(ctx context.Context, url, path string) (string, error)
}

type Result struct {
	Index    int
	Photo    string
	Style    string
	Path     string
	URL      string
	Error    error
	Skipped  bool
	Duration time.Duration
}

type Options struct {
	OutputDir     string
	DefaultStyle  string
	Parallel      int
	StopOnError   bool
	DelayMs       int
	MaxPhotoBytes int64
}

type Processor struct {
	gen    CardGenerator
	saver  Saver
	styles *models.StyleCatalog
	out    io.Writer
	err    io.Writer
	outMu  sync.Mutex
}

func NewProcessor(gen CardGenerator, saver Saver, styles *models.StyleCatalog, out, errOut io.Writer) *Processor {
	return &Processor{
		gen:    gen,
		saver:  saver,
		styles: styles,
		out:    out,
		err:    errOut,
	}
}

func (p *Processor) printf(format string, args ...interface{}) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) errorf(format string, args ...interface{}) {
	p.outMu.Lock()
	fmt.Fprintf(p.err, format, args...)
	p.outMu.Unlock()
}

// Process runs items with at most opts.Parallel in flight. With StopOnError
// the first failure cancels the remaining items, which are reported as
// skipped.
func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Result{Index: item.Index, Photo: item.Photo, Style: p.styleID(item, opts), Skipped: true}
	}

	workers := opts.Parallel
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	runCtx := ctx
	var g *errgroup.Group
	if opts.StopOnError {
		g, runCtx = errgroup.WithContext(ctx)
	} else {
		g = new(errgroup.Group)
	}
	g.SetLimit(workers)

	total := len(items)
	for i, item := range items {
		if i > 0 && opts.DelayMs > 0 {
			if err := sleep(runCtx, time.Duration(opts.DelayMs)*time.Millisecond); err != nil {
				break
			}
		}
		if runCtx.Err() != nil {
			break
		}

		i, item := i, item
		g.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}
			result := p.processItem(runCtx, item, opts, i+1, total)
			results[i] = result
			if result.Error != nil && opts.StopOnError {
				return fmt.Errorf("item %d: %w", item.Index, result.Error)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("batch stopped due to error: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Processor) styleID(item Item, opts *Options) string {
	if item.Style != "" {
		return item.Style
	}
	return opts.DefaultStyle
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index: item.Index,
		Photo: item.Photo,
		Style: p.styleID(item, opts),
	}

	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		p.errorf("       Error: %v\n", err)
		return result
	}

	p.printf("[%d/%d] Generating %s card for %s...\n", current, total, result.Style, filepath.Base(item.Photo))

	style, err := p.styles.Get(result.Style)
	if err != nil {
		return fail(err)
	}

	photo, err := image.LoadPhoto(item.Photo, opts.MaxPhotoBytes)
	if err != nil {
		return fail(err)
	}

	url, err := p.gen.GenerateCard(ctx, photo, style)
	if err != nil {
		return fail(err)
	}
	result.URL = url

	outputPath := item.Output
	if outputPath == "" {
		outputPath = generateFilename(item.Index, item.Photo, style.ID)
	}
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(opts.OutputDir, outputPath)
	}

	path, err := p.saver.Save(ctx, url, outputPath)
	if err != nil {
		return fail(fmt.Errorf("save failed: %w", err))
	}

	result.Path = path
	result.Duration = time.Since(start)
	p.printf("       Saved: %s (%s)\n", result.Path, result.Duration.Round(time.Millisecond))
	return result
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// generateFilename names a card after its position, photo and style. The
// extension is left to the saver.
func generateFilename(index int, photoPath, styleID string) string {
	stem := strings.TrimSuffix(filepath.Base(photoPath), filepath.Ext(photoPath))
	return fmt.Sprintf("%03d-%s-%s", index, sanitizeName(stem), sanitizeName(styleID))
}

var windowsReservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)

func sanitizeName(name string) string {
	sanitized := unsafeNameChars.ReplaceAllString(name, "")
	sanitized = strings.ToLower(sanitized)
	sanitized = strings.Join(strings.Fields(sanitized), "-")
	sanitized = strings.TrimLeft(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		sanitized = "photo"
	}

	if windowsReservedNames[sanitized] {
		sanitized = sanitized + "-img"
	}

	return sanitized
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed, skipped int
	var failures []Result
	categories := make(map[generator.Category]int)

	for _, r := range results {
		switch {
		case r.Error != nil:
			failed++
			failures = append(failures, r)
			categories[generator.Classify(r.Error).Category]++
		case r.Skipped:
			skipped++
		default:
			successful++
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d cards\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (%s)\n", failed, formatCategories(categories))
	}
	if skipped > 0 {
		fmt.Fprintf(p.out, "  Skipped: %d\n", skipped)
	}

	if len(failures) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, r := range failures {
			msg := r.Error.Error()
			var genErr *generator.Error
			if errors.As(r.Error, &genErr) {
				msg = genErr.Message
			}
			fmt.Fprintf(p.out, "  [%d] %s (%s): %s\n", r.Index, filepath.Base(r.Photo), r.Style, msg)
		}
	}
}

func formatCategories(counts map[generator.Category]int) string {
	parts := make([]string, 0, len(counts))
	for c, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", c, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
