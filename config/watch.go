package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoaderFunc 读取并校验配置，默认 Load。
type LoaderFunc func(path string) (AppConfig, error)

// Watcher 监听配置文件变化，合并冷却期内的连续事件后重新加载。
// 监听的是文件所在目录：编辑器常以 rename/create 方式替换文件，直接监听文件会丢失后续事件。
type Watcher struct {
	path     string
	name     string
	cooldown time.Duration
	load     LoaderFunc
	onUpdate func(AppConfig)
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
	lastErr error
	reloads int
	exited  error // 监听循环异常退出的原因
}

// NewWatcher 创建监听器；load 为 nil 时使用 Load。
func NewWatcher(path string, cooldown time.Duration, load LoaderFunc, onUpdate func(AppConfig), logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config watcher: path is required")
	}
	if onUpdate == nil {
		return nil, errors.New("config watcher: onUpdate is required")
	}
	if load == nil {
		load = Load
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		name:     filepath.Base(abs),
		cooldown: cooldown,
		load:     load,
		onUpdate: onUpdate,
		logger:   logger,
		watcher:  fw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start 开始监听，立即返回。
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	w.started = true
	go w.run(ctx)
	return nil
}

// Stop 停止监听并释放 fsnotify 句柄，可重复调用。
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	select {
	case <-w.stop:
		w.mu.Unlock()
		return nil
	default:
		close(w.stop)
	}
	w.mu.Unlock()

	if started {
		<-w.done
	}
	return w.watcher.Close()
}

// Health 只反映监听本身是否存活；被拒绝的重载不算不健康，旧配置继续生效。
func (w *Watcher) Health() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return errors.New("config watcher not started")
	}
	return w.exited
}

// LastError 最近一次重载的错误，成功后清空。
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Reloads 成功应用的次数。
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				w.exit(errors.New("config watcher: event channel closed"))
				return
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.cooldown)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.exit(errors.New("config watcher: error channel closed"))
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) exit(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exited = err
}

// reload 新配置无效时保留旧配置继续运行。
func (w *Watcher) reload() {
	cfg, err := w.load(w.path)
	w.mu.Lock()
	w.lastErr = err
	if err == nil {
		w.reloads++
	}
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
	w.onUpdate(cfg)
}
