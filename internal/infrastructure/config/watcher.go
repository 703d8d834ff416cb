package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Tunables are the settings safe to change while a run is in flight. They
// are re-read at iteration boundaries, never mid-task, so a reload can only
// take effect at a point where no store write is outstanding. Today that is
// the budget cap alone; everything else is fixed for the life of a run.
type Tunables struct {
	BudgetMaxCost float64
}

// Watcher monitors <project>/.convergent/config.yaml and hot-reloads the
// tunable subset when the file changes. Structural settings (strategies,
// verification commands, models) are fixed for the lifetime of a run.
//
// Usage:
//
//	watcher, _ := NewWatcher(projectDir, cfg, logger)
//	defer watcher.Stop()
//	t := watcher.Tunables() // always returns latest
type Watcher struct {
	mu       sync.RWMutex
	tunables Tunables
	fsw      *fsnotify.Watcher
	path     string
	stopCh   chan struct{}
	logger   *zap.Logger
}

// NewWatcher creates a watcher seeded from cfg. If the config file cannot be
// watched (missing directory, exhausted inotify handles) the watcher degrades
// to a static snapshot.
func NewWatcher(projectDir string, cfg *Config, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		tunables: Tunables{BudgetMaxCost: cfg.Budget.MaxCost},
		path:   filepath.Join(projectDir, StateDirName, "config.yaml"),
		stopCh: make(chan struct{}),
		logger: logger.With(zap.String("component", "config-watcher")),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("Config watcher unavailable, tunables frozen", zap.Error(err))
		return w, nil
	}
	w.fsw = fsw
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("Config watcher unavailable, tunables frozen", zap.Error(err))
		_ = fsw.Close()
		w.fsw = nil
		return w, nil
	}

	go w.loop()
	return w, nil
}

// Tunables returns the current tunable snapshot (thread-safe).
func (w *Watcher) Tunables() Tunables {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tunables
}

// Stop shuts the watcher down. Idempotent.
func (w *Watcher) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(w.path)
	if err := v.ReadInConfig(); err != nil {
		w.logger.Warn("Config reload failed", zap.Error(err))
		return
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		w.logger.Warn("Config reload failed", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("Reloaded config invalid, keeping previous tunables", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.tunables = Tunables{BudgetMaxCost: cfg.Budget.MaxCost}
	w.mu.Unlock()

	w.logger.Info("Config reloaded",
		zap.Float64("budget_max_cost", cfg.Budget.MaxCost),
	)
}
