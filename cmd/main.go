package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"veil/config"
	"veil/diag"
	"veil/ledger"
	"veil/logger"
	"veil/output"
	"veil/pipeline"
	"veil/systeminfo"
	"veil/tracing"
	"veil/version"
)

const (
	flightMaxBytes = 16 << 20
	flightMinAge   = 30 * time.Second
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	if err := tracing.Start("trace.out"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
	} else {
		defer tracing.Stop()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	if cfg.LogToFile {
		if err := logger.InitWithFile(cfg.LogLevel, logger.FileSink{Path: cfg.LogFilePath()}); err != nil {
			logger.Init(cfg.LogLevel)
			logger.Warnf("Log file disabled: %v", err)
		}
	} else {
		logger.Init(cfg.LogLevel)
	}

	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(flightMaxBytes, flightMinAge); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer func() {
				if err := tracing.WriteFlightRecorder(cfg.TraceFlightFile); err != nil {
					logger.Warnf("Failed to write flight recorder: %v", err)
				}
				tracing.StopFlightRecorder()
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go handleSignalEvent(cancel, cfg.TraceFlight, cfg.TraceFlightFile, sigChan)

	return run(ctx, cfg, os.Stdin, os.Stdout)
}

// handleSignalEvent cancels ctx on the first signal. A batch that already
// started still finishes its files; signal delivery is restored so a second
// interrupt terminates the process.
func handleSignalEvent(cancel context.CancelFunc, traceFlight bool, traceFlightFile string, sigChan chan os.Signal) {
	if _, ok := <-sigChan; !ok {
		return
	}
	signal.Stop(sigChan)
	logger.Warn("Interrupt received. A running batch completes its files; interrupt again to force exit.")
	if traceFlight {
		if err := tracing.WriteFlightRecorder(traceFlightFile); err != nil {
			logger.Warnf("Failed to write flight recorder: %v", err)
		}
	}
	cancel()
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) int {
	if cfg.ShowLayout {
		if err := pipeline.EnsureLayout(cfg.Layout()); err != nil {
			logger.Errorf("Failed to prepare workspace: %v", err)
			return 1
		}
		printLayout(out, pipeline.LayoutCounts(cfg.Layout()))
		return 0
	}

	l, err := ledger.Open(ledger.Options{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath(),
		DSN:      cfg.DBDSN,
		LogLevel: cfg.LogLevel,
	})
	if err != nil {
		logger.Errorf("Failed to open ledger: %v", err)
		return 2
	}
	defer l.Close()

	if cfg.ShowSummary {
		overview, err := l.Overview(5)
		if err != nil {
			logger.Errorf("Failed to read ledger: %v", err)
			return 2
		}
		printSummary(out, overview)
		return 0
	}

	var host *systeminfo.Host
	if cfg.CollectHostInfo {
		host = systeminfo.Describe(ctx)
	}
	exporter, err := output.NewAuditExporter(cfg)
	if err != nil {
		logger.Warnf("Audit export disabled: %v", err)
	}
	defer exporter.Shutdown()

	opts := pipeline.Options{
		Stdout:       out,
		Exporter:     exporter,
		Host:         host,
		ShowProgress: progressVisible(),
	}
	if !cfg.AssumeYes {
		opts.Confirm = confirmFunc(cfg, in, out)
	}
	var p *pipeline.Pipeline
	if cfg.StallThreshold > 0 {
		opts.Monitor = diag.NewWatchdog(diag.Options{
			Threshold: cfg.StallThreshold,
			Dir:       cfg.Layout().Logs,
			Progress:  func() int64 { return p.Processed() },
			DumpFlightRecorder: func(path string) error {
				if !cfg.TraceFlight {
					return nil
				}
				return tracing.WriteFlightRecorder(path)
			},
		})
	}
	p, err = pipeline.New(cfg, l, opts)
	if err != nil {
		logger.Errorf("Failed to prepare pipeline: %v", err)
		return 1
	}

	logger.Infof("veil %s, operator %q, security level %d", version.Version, cfg.Operator, cfg.SecurityLevel)
	res, err := p.Run(ctx)
	var lerr *pipeline.LedgerError
	switch {
	case errors.Is(err, pipeline.ErrNothingToDo):
		return 0
	case errors.Is(err, pipeline.ErrCancelled):
		fmt.Fprintln(out, "Cancelled.")
		return 0
	case errors.As(err, &lerr):
		logger.Errorf("Audit ledger failure: %v", lerr)
		return 2
	case err != nil:
		logger.Errorf("Batch failed: %v", err)
		return 1
	}
	if res.Stats.Successful > 0 {
		fmt.Fprintf(out, "Clean files are in %s\n", cfg.Layout().Clean)
	}
	return 0
}

// confirmFunc shows the plan and the active settings, then asks for y/N.
func confirmFunc(cfg *config.Config, in io.Reader, out io.Writer) func(pipeline.Plan) bool {
	reader := bufio.NewReader(in)
	return func(plan pipeline.Plan) bool {
		images, videos := plan.Counts()
		fmt.Fprintf(out, "Found %d image(s) and %d video(s) in %s\n", images, videos, cfg.Layout().Ingest)
		if plan.Excluded > 0 {
			fmt.Fprintf(out, "%d file(s) excluded by patterns\n", plan.Excluded)
		}
		fmt.Fprintf(out, "Operator: %s\n", cfg.Operator)
		fmt.Fprintf(out, "Security level %d: flip probability %.2f, %d pass(es), noise %t\n",
			cfg.SecurityLevel, cfg.LSBFlipProbability, cfg.ObfuscationPasses, cfg.AddNoise)
		fmt.Fprintf(out, "Output: %s", cfg.OutputFormat)
		if cfg.OutputFormat == config.FormatJPEG {
			fmt.Fprintf(out, " (quality %d)", cfg.JPEGQuality)
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, "Proceed? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}

func printLayout(out io.Writer, dirs []pipeline.DirCount) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIRECTORY\tFILES\tPATH")
	for _, d := range dirs {
		count := fmt.Sprint(d.Files)
		if d.Err != nil {
			count = "?"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, count, d.Path)
	}
	tw.Flush()
}

func printSummary(out io.Writer, o *ledger.Overview) {
	fmt.Fprintf(out, "Total runs: %d\n", o.TotalRuns)
	fmt.Fprintf(out, "Files processed: %d (successful %d)\n", o.TotalFiles, o.SuccessfulFiles)
	if len(o.RecentRuns) == 0 {
		return
	}
	fmt.Fprintln(out, "Recent runs:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  RUN\tSTARTED (UTC)\tOPERATOR\tTOTAL\tOK\tFAILED")
	for _, r := range o.RecentRuns {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.OperatorName, r.TotalFiles, r.SuccessfulFiles, r.FailedFiles)
	}
	tw.Flush()
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("VEIL_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
