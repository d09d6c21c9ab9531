// 配置文件变更监听器。
//
// 纯轮询实现：按固定间隔比较修改时间与文件大小，
// 变更事件经防抖合并后分发给回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 事件类型定义 ---

// FileOp 文件操作类型
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 表示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String 返回操作类型的字符串表示
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

// FileEvent 文件变更事件
type FileEvent struct {
	// 变更的文件路径
	Path string `json:"path"`

	// 操作类型
	Op FileOp `json:"op"`

	// 事件发生时间
	Timestamp time.Time `json:"timestamp"`
}

// --- 监听器选项 ---

// WatcherOption 配置 FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置事件防抖延迟
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 监听器实现 ---

// FileWatcher 监听单个配置文件的创建、修改与删除
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	// 回调
	callbacks []func(FileEvent)

	// 记录器
	logger *zap.Logger

	// 轮询快照，Start 之后只有轮询 goroutine 访问
	exists  bool
	modTime time.Time
	size    int64
}

// NewFileWatcher 创建文件监听器
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		path:          path,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 16),
		callbacks:     make([]func(FileEvent), 0),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
		w.logger.Warn("config file does not exist, will watch for creation",
			zap.String("path", path))
	}

	return w, nil
}

// OnChange 注册文件变更回调
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Path 返回被监听的文件路径
func (w *FileWatcher) Path() string {
	return w.path
}

// IsRunning 返回监听器是否在运行
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Start 启动监听
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	// 记录初始状态，已存在的文件不会触发 CREATE
	if info, err := os.Stat(w.path); err == nil {
		w.exists = true
		w.modTime = info.ModTime()
		w.size = info.Size()
	}

	go w.pollLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info("file watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop 停止监听
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	close(w.stopChan)
	w.running = false

	w.logger.Info("file watcher stopped")
	return nil
}

// pollLoop 按固定间隔检查文件状态
func (w *FileWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFile()
		}
	}
}

// checkFile 比较文件当前状态与上次快照
func (w *FileWatcher) checkFile() {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.exists {
			w.exists = false
			w.emit(FileOpRemove)
		}
		return
	}

	switch {
	case !w.exists:
		w.exists = true
		w.modTime = info.ModTime()
		w.size = info.Size()
		w.emit(FileOpCreate)
	case info.ModTime().After(w.modTime) || info.Size() != w.size:
		// 同时比较大小，修改时间粒度粗的文件系统上也能捕捉到快速覆盖
		w.modTime = info.ModTime()
		w.size = info.Size()
		w.emit(FileOpWrite)
	}
}

// emit 投递事件，队列满时丢弃（防抖只保留最新事件）
func (w *FileWatcher) emit(op FileOp) {
	event := FileEvent{
		Path:      w.path,
		Op:        op,
		Timestamp: time.Now(),
	}

	select {
	case w.eventChan <- event:
	default:
		w.logger.Warn("event queue full, dropping file event",
			zap.String("op", op.String()))
	}
}

// dispatchLoop 把事件防抖合并后分发给回调。
// 防抖窗口内的连续事件只保留最后一个。
func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	var pending *FileEvent

	timer := time.NewTimer(w.debounceDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event := <-w.eventChan:
			pending = &event
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounceDelay)
		case <-timer.C:
			if pending == nil {
				continue
			}
			event := *pending
			pending = nil
			w.dispatch(event)
		}
	}
}

// dispatch 调用所有已注册的回调
func (w *FileWatcher) dispatch(event FileEvent) {
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	w.logger.Debug("dispatching file event",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	for _, cb := range callbacks {
		cb(event)
	}
}
