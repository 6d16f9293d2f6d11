// Package pipeline drives a batch: every supported file in intake is
// archived, recorded, sanitised and only then removed from intake. Files
// are handled one at a time in name order and a failing file never stops
// the batch; a failing ledger does unless configured otherwise.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"veil/archive"
	"veil/config"
	"veil/ledger"
	"veil/logger"
	"veil/obfuscate"
	"veil/output"
	"veil/systeminfo"
	"veil/tracing"
	"veil/utils"
	"veil/video"

	"github.com/schollz/progressbar/v3"
)

// Action types written to the ledger.
const (
	ActionPreserveOriginal   = "preserve_original"
	ActionDuplicateDetected  = "duplicate_detected"
	ActionSecureObfuscation  = "secure_obfuscation"
	ActionStripVideoMetadata = "strip_video_metadata"
	ActionRemoveFromIngest   = "remove_from_ingest"
	ActionProcessingError    = "processing_error"
)

type Options struct {
	// Engine defaults to one reading crypto/rand.
	Engine *obfuscate.Engine
	// Stripper defaults to the configured ffmpeg path and timeout.
	Stripper *video.Stripper
	// Stdout receives the per-file result lines. Defaults to os.Stdout.
	Stdout io.Writer
	// Confirm is asked once with the plan before anything is written.
	Confirm  func(Plan) bool
	Exporter *output.AuditExporter
	Host     *systeminfo.Host
	// ShowProgress draws a progress bar on stderr.
	ShowProgress bool
	Now          func() time.Time
	// Monitor runs alongside the file loop, after confirmation.
	Monitor Monitor
}

// Monitor observes a batch while its files are processed.
type Monitor interface {
	Start(ctx context.Context)
	Stop()
}

type Pipeline struct {
	cfg          *config.Config
	layout       config.Layout
	ledger       *ledger.Ledger
	engine       *obfuscate.Engine
	stripper     *video.Stripper
	matcher      *utils.PatternMatcher
	originals    *archive.Store
	clean        *archive.Store
	stdout       io.Writer
	confirm      func(Plan) bool
	exporter     *output.AuditExporter
	host         *systeminfo.Host
	showProgress bool
	now          func() time.Time
	monitor      Monitor
	processed    atomic.Int64
}

// Result summarises a finished batch.
type Result struct {
	RunID   uint
	Stats   ledger.Stats
	Skipped int
	Aborted bool
	Files   []output.FileResult
}

// New prepares the workspace directories and binds the pipeline to an open
// ledger. The ledger stays owned by the caller.
func New(cfg *config.Config, l *ledger.Ledger, opts Options) (*Pipeline, error) {
	if cfg == nil || l == nil {
		return nil, errors.New("pipeline: config and ledger are required")
	}
	layout := cfg.Layout()
	if err := EnsureLayout(layout); err != nil {
		return nil, err
	}
	matcher, err := utils.NewPatternMatcher(cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	originals, err := archive.New(layout.Originals)
	if err != nil {
		return nil, err
	}
	clean, err := archive.New(layout.Clean)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:          cfg,
		layout:       layout,
		ledger:       l,
		engine:       opts.Engine,
		stripper:     opts.Stripper,
		matcher:      matcher,
		originals:    originals,
		clean:        clean,
		stdout:       opts.Stdout,
		confirm:      opts.Confirm,
		exporter:     opts.Exporter,
		host:         opts.Host,
		showProgress: opts.ShowProgress,
		now:          opts.Now,
		monitor:      opts.Monitor,
	}
	if p.engine == nil {
		p.engine = obfuscate.NewEngine()
	}
	if p.stripper == nil {
		p.stripper = video.NewStripper(cfg.FFmpegPath, cfg.VideoTimeout)
	}
	if p.stdout == nil {
		p.stdout = os.Stdout
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.exporter != nil {
		l.OnAction(p.exporter.ExportAction)
	}
	return p, nil
}

// Plan scans intake and decides what the batch would process.
func (p *Pipeline) Plan() (Plan, error) {
	items, excluded, err := Scan(p.layout.Ingest, p.matcher)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Excluded: excluded}
	videoTool := true
	checked := false
	for _, it := range items {
		if it.Kind == KindVideo {
			if !checked {
				videoTool = p.stripper.Available()
				checked = true
			}
			if !videoTool {
				plan.SkippedVideos = append(plan.SkippedVideos, it)
				continue
			}
		}
		plan.Items = append(plan.Items, it)
	}
	return plan, nil
}

// Run processes the current intake as one ledger run. It returns
// ErrNothingToDo when intake is empty after planning and ErrCancelled when
// the confirmation hook declines. The first *LedgerError of the batch is
// returned even when the batch was allowed to continue; the Result still
// carries the counts reached.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	plan, err := p.Plan()
	if err != nil {
		return nil, err
	}
	result := &Result{Skipped: len(plan.SkippedVideos)}
	if len(plan.SkippedVideos) > 0 {
		for _, it := range plan.SkippedVideos {
			logger.Warnf("Skipping %s: video tool %q is not available", it.Name, p.cfg.FFmpegPath)
		}
		fmt.Fprintf(p.stdout, "Warning: %d video file(s) left in intake, ffmpeg is not available\n", len(plan.SkippedVideos))
	}
	if plan.Empty() {
		fmt.Fprintln(p.stdout, "Nothing to do.")
		return result, ErrNothingToDo
	}
	if p.confirm != nil && !p.confirm(plan) {
		return result, ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	runConfig := p.cfg.Snapshot()
	if p.host != nil {
		runConfig["host"] = p.host
	}
	runID, err := p.ledger.StartRun(p.cfg.Operator, runConfig)
	if err != nil {
		lerr := &LedgerError{Stage: "start_run", Err: err}
		logger.Error(lerr.Error())
		return result, lerr
	}
	result.RunID = runID
	info := output.RunInfo{RunID: runID, Operator: p.cfg.Operator, StartedAt: p.now().UTC()}
	if run, err := p.ledger.GetRun(runID); err == nil {
		info.UUID = run.UUID
		info.StartedAt = run.StartedAt
	}
	logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"files":  len(plan.Items),
	}).Info("Batch started")

	ctx, endRun := tracing.StartRun(ctx, runID)
	defer endRun()

	var report *output.Report
	if p.cfg.ReportFile != "" {
		report, err = output.NewReport(p.cfg.ReportFile, info, p.host, runConfig)
		if err != nil {
			logger.Warnf("Report disabled: %v", err)
			report = nil
		}
	}
	p.exporter.ExportRun("run_started", info, nil)

	bar := progressbar.NewOptions(len(plan.Items),
		progressbar.OptionSetDescription("Sanitising files"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(p.showProgress),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionFullWidth(),
	)

	metrics := output.Metrics{StartTime: info.StartedAt.Format(time.RFC3339), Skipped: result.Skipped}
	var fatal, ledgerErr error
	if p.monitor != nil {
		p.monitor.Start(ctx)
	}
	for _, item := range plan.Items {
		out := p.process(ctx, runID, item)
		result.Stats.Total++
		if out.err == nil {
			result.Stats.Successful++
			fmt.Fprintf(p.stdout, "✓ %s -> %s\n", item.Name, out.result.Clean.Name)
		} else {
			result.Stats.Failed++
			fmt.Fprintf(p.stdout, "✗ %s: %v\n", item.Name, out.err)
			if lerr := p.recordFailure(runID, item, out); lerr != nil {
				logger.Error(lerr.Error())
				if ledgerErr == nil {
					ledgerErr = lerr
				}
				if p.cfg.AbortOnLedgerError {
					fatal = lerr
				}
			}
		}
		result.Files = append(result.Files, out.result)
		if err := report.Add(out.result); err != nil {
			logger.Warnf("Report entry for %s not written: %v", item.Name, err)
		}
		p.processed.Add(1)
		_ = bar.Add(1)
		if fatal != nil {
			result.Aborted = true
			logger.Errorf("Aborting batch after ledger failure; %d file(s) left in intake", len(plan.Items)-result.Stats.Total)
			break
		}
	}
	_ = bar.Finish()
	if p.monitor != nil {
		p.monitor.Stop()
	}

	if err := p.ledger.FinishRun(runID, result.Stats); err != nil {
		lerr := &LedgerError{Stage: "finish_run", Err: err}
		logger.Error(lerr.Error())
		if ledgerErr == nil {
			ledgerErr = lerr
		}
	}
	metrics.EndTime = p.now().UTC().Format(time.RFC3339)
	metrics.Total = result.Stats.Total
	metrics.Successful = result.Stats.Successful
	metrics.Failed = result.Stats.Failed
	metrics.Aborted = result.Aborted
	if err := report.Close(metrics); err != nil {
		logger.Warnf("Report not finalised: %v", err)
	}
	p.exporter.ExportRun("run_finished", info, &metrics)

	logger.WithFields(map[string]interface{}{
		"run_id":     runID,
		"total":      result.Stats.Total,
		"successful": result.Stats.Successful,
		"failed":     result.Stats.Failed,
	}).Info("Batch finished")
	fmt.Fprintf(p.stdout, "Total: %d  Successful: %d  Failed: %d\n",
		result.Stats.Total, result.Stats.Successful, result.Stats.Failed)
	return result, ledgerErr
}

// Processed reports how many files the current batch has finished. It is
// safe to call from other goroutines.
func (p *Pipeline) Processed() int64 {
	return p.processed.Load()
}

// recordFailure writes the processing_error action and returns the ledger
// error that ended the file, if any.
func (p *Pipeline) recordFailure(runID uint, item Item, out fileOutcome) *LedgerError {
	stage := stageOf(out.err)
	logger.WithFields(map[string]interface{}{
		"file":  item.Name,
		"stage": stage,
	}).Errorf("Processing failed: %v", out.err)

	details := map[string]interface{}{
		"file":  item.Name,
		"error": out.err.Error(),
		"stage": stage,
	}
	var cause *LedgerError
	errors.As(out.err, &cause)
	if err := p.ledger.RecordAction(runID, out.fileID, ActionProcessingError, details); err != nil {
		if cause == nil {
			cause = &LedgerError{Stage: "record_error", Err: err}
		} else {
			logger.Errorf("Could not record processing error for %s: %v", item.Name, err)
		}
	}
	return cause
}

// EnsureLayout creates every workspace directory. Intake, clean and
// originals must resolve to three different directories, otherwise a batch
// would consume its own output.
func EnsureLayout(layout config.Layout) error {
	for _, dir := range []string{layout.Ingest, layout.Clean, layout.Originals, layout.DB, layout.Logs} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if utils.SameDir(layout.Ingest, layout.Clean) || utils.SameDir(layout.Ingest, layout.Originals) ||
		utils.SameDir(layout.Clean, layout.Originals) {
		return ErrOverlappingLayout
	}
	return nil
}

// DirCount is one line of the layout view.
type DirCount struct {
	Name  string
	Path  string
	Files int
	Err   error
}

// LayoutCounts reports how many files each workspace directory holds.
func LayoutCounts(layout config.Layout) []DirCount {
	dirs := []DirCount{
		{Name: "ingest", Path: layout.Ingest},
		{Name: "clean", Path: layout.Clean},
		{Name: "originals", Path: layout.Originals},
		{Name: "db", Path: layout.DB},
		{Name: "logs", Path: layout.Logs},
	}
	for i := range dirs {
		dirs[i].Files, dirs[i].Err = archive.Count(dirs[i].Path)
	}
	return dirs
}
