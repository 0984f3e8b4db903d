// 模板目录变更监听。
//
// 轮询目录中定义文件的修改时间与大小，变化后去抖再触发重载。
package templates

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileOp 文件变化类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 一次文件变化
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithDebounceDelay 设置去抖时间
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher 监听 Catalog 的目录并在变化后重载
type Watcher struct {
	catalog       *Catalog
	pollInterval  time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	running  bool
	stamps   map[string]fileStamp
	onReload []func(events []FileEvent, err error)
}

// NewWatcher 为 catalog 当前目录创建监听器
func NewWatcher(catalog *Catalog, opts ...WatcherOption) (*Watcher, error) {
	if catalog == nil || catalog.Dir() == "" {
		return nil, fmt.Errorf("catalog has no templates dir")
	}
	w := &Watcher{
		catalog:       catalog,
		pollInterval:  2 * time.Second,
		debounceDelay: 250 * time.Millisecond,
		logger:        zap.NewNop(),
		stamps:        make(map[string]fileStamp),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "template_watcher"))
	return w, nil
}

// OnReload 注册重载回调，err 为 Reload 的返回值
func (w *Watcher) OnReload(fn func(events []FileEvent, err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Run 阻塞轮询直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stamps = w.snapshot()
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	w.logger.Info("watching templates dir",
		zap.String("dir", w.catalog.Dir()),
		zap.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		pending  []FileEvent
		debounce <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if events := w.scan(); len(events) > 0 {
				pending = append(pending, events...)
				debounce = time.After(w.debounceDelay)
			}
		case <-debounce:
			debounce = nil
			w.reload(pending)
			pending = nil
		}
	}
}

func (w *Watcher) reload(events []FileEvent) {
	err := w.catalog.Reload()
	if err != nil {
		w.logger.Warn("template reload failed", zap.Error(err))
	}

	w.mu.Lock()
	callbacks := append([]func([]FileEvent, error){}, w.onReload...)
	w.mu.Unlock()
	for _, cb := range callbacks {
		cb(events, err)
	}
}

// scan 比较当前快照与上一次快照
func (w *Watcher) scan() []FileEvent {
	current := w.snapshot()
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	var events []FileEvent
	for path, st := range current {
		prev, existed := w.stamps[path]
		switch {
		case !existed:
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case !st.modTime.Equal(prev.modTime) || st.size != prev.size:
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
	for path := range w.stamps {
		if _, ok := current[path]; !ok {
			events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
		}
	}
	w.stamps = current
	return events
}

func (w *Watcher) snapshot() map[string]fileStamp {
	files, err := definitionFiles(w.catalog.Dir())
	if err != nil {
		w.logger.Debug("templates dir not readable", zap.Error(err))
		return map[string]fileStamp{}
	}
	out := make(map[string]fileStamp, len(files))
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			out[f] = fileStamp{modTime: info.ModTime(), size: info.Size()}
		}
	}
	return out
}

// IsRunning returns whether Run is active
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
