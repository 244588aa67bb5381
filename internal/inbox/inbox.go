// Package inbox refactors notebooks dropped into a watched directory.
package inbox

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/refactor"
	"github.com/starford/nbrefactor/internal/storage"
)

// Output directories, relative to the inbox root.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

const defaultDebounce = 300 * time.Millisecond

// Processor runs one notebook. *refactor.Service satisfies it.
type Processor interface {
	Run(ctx context.Context, in refactor.Input) (*refactor.Result, error)
}

// Callback is called after each processed notebook with its outcome.
type Callback func(name string, res *refactor.Result, err error)

// Watcher processes .ipynb files that appear at the top level of the inbox.
type Watcher struct {
	store    *storage.FS
	proc     Processor
	opts     models.Options
	logger   *slog.Logger
	debounce time.Duration
	now      func() time.Time
	cb       Callback
}

// New creates an inbox watcher over store. opts are applied to every run.
func New(store *storage.FS, proc Processor, opts models.Options, logger *slog.Logger, cb Callback) *Watcher {
	return &Watcher{
		store:    store,
		proc:     proc,
		opts:     opts,
		logger:   logger,
		debounce: defaultDebounce,
		now:      time.Now,
		cb:       cb,
	}
}

// Sync processes every notebook already waiting in the inbox.
func (w *Watcher) Sync(ctx context.Context) error {
	files, err := w.store.List("", "")
	if err != nil {
		return err
	}
	var names []string
	for _, f := range files {
		if !strings.Contains(f.Path, "/") && isNotebook(f.Path) {
			names = append(names, f.Path)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.process(ctx, name)
	}
	return nil
}

// Watch processes new notebooks until ctx is cancelled. Writes are
// debounced so a file is handled once its writer has gone quiet.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.store.Root()
	if err := fw.Add(root); err != nil {
		return err
	}
	w.logger.Info("inbox: started", slog.String("root", root))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("inbox: stopped")
			return nil

		case <-timerCh:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			clear(pending)
			sort.Strings(names)
			for _, name := range names {
				w.process(ctx, name)
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || filepath.Dir(ev.Name) != root {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isNotebook(name) {
				continue
			}
			pending[name] = struct{}{}
			schedule()

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// process refactors one inbox file and moves it to processed/ or failed/.
func (w *Watcher) process(ctx context.Context, name string) {
	log := w.logger.With(slog.String("file", name))
	data, err := w.store.Read(name)
	if err != nil {
		// Already moved by an earlier event.
		log.Debug("inbox: read skipped", slog.String("error", err.Error()))
		return
	}

	res, runErr := w.proc.Run(ctx, refactor.Input{Name: name, Source: data, Options: w.opts})
	if ctx.Err() != nil {
		// Shutting down; leave the file for the next start.
		return
	}

	dest := path.Join(ProcessedDir, w.now().Format(refactor.TimestampLayout)+"_"+name)
	if runErr != nil {
		dest = path.Join(FailedDir, w.now().Format(refactor.TimestampLayout)+"_"+name)
		log.Warn("inbox: run failed", slog.String("error", runErr.Error()))
		if err := w.store.Write(dest+".error.txt", []byte(refactor.Message(runErr)+"\n")); err != nil {
			log.Warn("inbox: write error note failed", slog.String("error", err.Error()))
		}
	} else {
		log.Info("inbox: run succeeded", slog.String("run_id", res.Run.ID))
	}
	if err := w.store.Move(name, dest); err != nil {
		log.Error("inbox: move failed", slog.String("dest", dest), slog.String("error", err.Error()))
	}
	if w.cb != nil {
		w.cb(name, res, runErr)
	}
}

func isNotebook(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".ipynb") && !strings.HasPrefix(name, ".")
}
