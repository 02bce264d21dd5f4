package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"

	"github.com/Proton-105/flowbot/internal/flow"
)

const defaultDebounce = 250 * time.Millisecond

// GraphLoader validates and stages a changed graph.
type GraphLoader interface {
	LoadFlowGraph(botID string, doc *flow.Document) error
}

// Watcher stages graph changes of catalog bots as their files change.
// Staged graphs take effect on the bot's next start.
type Watcher struct {
	catalog  *Catalog
	loader   GraphLoader
	log      *slog.Logger
	debounce time.Duration
}

func NewWatcher(c *Catalog, loader GraphLoader, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{catalog: c, loader: loader, log: log, debounce: defaultDebounce}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	dirs := lo.Uniq(append(
		[]string{w.catalog.resolve(".")},
		lo.Map(lo.Keys(w.catalog.GraphFiles(ctx)), func(p string, _ int) string { return filepath.Dir(p) })...,
	))
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %q: %w", dir, err)
		}
	}
	w.log.Info("watching bot catalog", slog.Any("dirs", dirs))

	pending := make(map[string]struct{})
	flush := time.NewTimer(w.debounce)
	flush.Stop()
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			for _, id := range w.affected(ctx, ev.Name) {
				pending[id] = struct{}{}
			}
			if len(pending) > 0 {
				flush.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", slog.Any("error", err))
		case <-flush.C:
			for id := range pending {
				w.reload(ctx, id)
			}
			clear(pending)
		}
	}
}

// affected returns the bots whose definition or graph lives at path.
func (w *Watcher) affected(ctx context.Context, path string) []string {
	abs := w.catalog.resolve(path)

	var ids []string
	if filepath.Dir(abs) == w.catalog.resolve(".") {
		if id, ok := botIDFromFile(filepath.Base(abs)); ok {
			ids = append(ids, id)
		}
	}
	ids = append(ids, w.catalog.GraphFiles(ctx)[abs]...)
	return lo.Uniq(ids)
}

func (w *Watcher) reload(ctx context.Context, botID string) {
	log := w.log.With(slog.String("bot_id", botID))

	def, err := w.catalog.Definition(ctx, botID)
	if err != nil {
		log.Warn("failed to reload bot definition", slog.Any("error", err))
		return
	}
	if def.Graph == nil {
		return
	}
	if err := w.loader.LoadFlowGraph(botID, def.Graph); err != nil {
		log.Warn("changed flow graph rejected", slog.Any("error", err))
		return
	}
	log.Info("changed flow graph staged")
}
