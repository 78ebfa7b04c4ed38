package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"churnintel/pipeline"
)

const outputSuffix = "_predictions.csv"

// Watcher processes every CSV file written into an inbox directory and writes
// the augmented file to an outbox.
type Watcher struct {
	runner   *Runner
	inbox    string
	outbox   string
	settle   time.Duration
	logger   *zap.Logger
	onReport func(*Report)
}

type WatcherOption func(*Watcher)

// WithSettle sets how long a file must stay unchanged before it is read.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithReportHook is called after each processed file.
func WithReportHook(fn func(*Report)) WatcherOption {
	return func(w *Watcher) { w.onReport = fn }
}

func NewWatcher(runner *Runner, inbox, outbox string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		runner: runner,
		inbox:  inbox,
		outbox: outbox,
		settle: 500 * time.Millisecond,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.outbox, 0o755); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.inbox); err != nil {
		return fmt.Errorf("watch %s: %w", w.inbox, err)
	}
	w.logger.Info("watching inbox", zap.String("inbox", w.inbox), zap.String("outbox", w.outbox))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isInput(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case now := <-ticker.C:
			for name, touched := range pending {
				if now.Sub(touched) < w.settle {
					continue
				}
				delete(pending, name)
				if _, err := w.ProcessFile(ctx, name); err != nil {
					w.logger.Error("batch file failed", zap.String("file", name), zap.Error(err))
				}
			}
		}
	}
}

// ProcessFile runs one file and writes <outbox>/<name>_predictions.csv.
func (w *Watcher) ProcessFile(ctx context.Context, path string) (*Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	table, err := pipeline.ReadTable(file)
	file.Close()
	if err != nil {
		return nil, err
	}

	report, err := w.runner.Run(ctx, filepath.Base(path), table)
	if report == nil {
		return nil, err
	}

	out := filepath.Join(w.outbox, OutputName(path))
	if werr := writeReport(out, report); werr != nil {
		return report, werr
	}
	w.logger.Info("batch file written", zap.String("output", out))
	if w.onReport != nil {
		w.onReport(report)
	}
	return report, err
}

// OutputName maps input.csv to input_predictions.csv.
func OutputName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + outputSuffix
}

func writeReport(path string, report *Report) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := report.WriteCSV(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func isInput(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".csv") && !strings.HasSuffix(lower, outputSuffix)
}
