// 配置热重载管理器。
//
// 监听配置文件变更，重新加载、校验并原子替换当前配置，
// 然后通知回调。回调失败时恢复上一份配置。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// ChangeCallback 每个变更字段调用一次
type ChangeCallback func(change ConfigChange)

// ReloadCallback 配置重载完成后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange 描述单个字段的变更
type ConfigChange struct {
	// 变更时间
	Timestamp time.Time `json:"timestamp"`

	// 变更来源（file、manual）
	Source string `json:"source"`

	// 变更字段的路径，例如 "Log.Level"
	Path string `json:"path"`

	// 变更前的值（敏感字段脱敏）
	OldValue any `json:"old_value,omitempty"`

	// 变更后的值（敏感字段脱敏）
	NewValue any `json:"new_value,omitempty"`

	// 是否需要重启才能生效
	RequiresRestart bool `json:"requires_restart"`
}

// hotReloadableFields 标记无需重启即可生效的字段。
// 未列出的字段变更仍会被应用，但日志会提示重启。
// 目前只有日志级别通过 OnReload 回调热应用。
var hotReloadableFields = map[string]bool{
	"Log.Level": true,
}

// sensitiveSuffixes 路径命中任一后缀时，变更日志脱敏
var sensitiveSuffixes = []string{
	"Password",
	"PasswordHash",
	"JWTSecret",
	"APIKey",
}

// --- 管理器选项 ---

// ReloadOption 配置 ReloadManager
type ReloadOption func(*ReloadManager)

// WithReloadLogger 设置日志记录器
func WithReloadLogger(logger *zap.Logger) ReloadOption {
	return func(m *ReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfigPath 设置要监听的配置文件路径
func WithConfigPath(path string) ReloadOption {
	return func(m *ReloadManager) {
		m.configPath = path
	}
}

// WithEnvPrefix 设置重载时使用的环境变量前缀
func WithEnvPrefix(prefix string) ReloadOption {
	return func(m *ReloadManager) {
		m.envPrefix = prefix
	}
}

// --- 管理器实现 ---

// ReloadManager 管理配置热重载
type ReloadManager struct {
	mu sync.RWMutex

	// 当前配置
	config     *Config
	configPath string
	envPrefix  string

	// 上一份成功应用的配置，回调失败时恢复
	previous *Config

	// 文件监听器
	watcher *FileWatcher

	// 回调
	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback

	// 记录器
	logger *zap.Logger

	// 运行状态
	running bool
	cancel  context.CancelFunc
}

// NewReloadManager 创建热重载管理器
func NewReloadManager(config *Config, opts ...ReloadOption) *ReloadManager {
	m := &ReloadManager{
		config:          config,
		envPrefix:       "OBCCHAT",
		changeCallbacks: make([]ChangeCallback, 0),
		reloadCallbacks: make([]ReloadCallback, 0),
		logger:          zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// OnChange 注册字段变更回调
func (m *ReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload 注册重载完成回调
func (m *ReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// Current 返回当前配置的深拷贝
func (m *ReloadManager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deepCopyConfig(m.config)
}

// Start 启动文件监听
func (m *ReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("reload manager already running")
	}
	if m.configPath == "" {
		return fmt.Errorf("no config path to watch")
	}

	watchCtx, cancel := context.WithCancel(ctx)

	watcher, err := NewFileWatcher(m.configPath,
		WithWatcherLogger(m.logger),
		WithDebounceDelay(500*time.Millisecond),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	watcher.OnChange(m.handleFileChange)

	if err := watcher.Start(watchCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	m.watcher = watcher
	m.cancel = cancel
	m.running = true

	m.logger.Info("config reload manager started",
		zap.String("config_path", m.configPath))

	return nil
}

// Stop 停止文件监听
func (m *ReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}

	m.running = false
	m.logger.Info("config reload manager stopped")

	return nil
}

// handleFileChange 处理文件变更事件
func (m *ReloadManager) handleFileChange(event FileEvent) {
	m.logger.Info("config file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	switch event.Op {
	case FileOpWrite, FileOpCreate:
		if err := m.ReloadFromFile(); err != nil {
			m.logger.Error("failed to reload config", zap.Error(err))
		}
	case FileOpRemove:
		m.logger.Warn("config file removed, keeping current config")
	}
}

// ReloadFromFile 从文件重新加载配置。
// 加载或校验失败时保留当前配置并返回错误。
func (m *ReloadManager) ReloadFromFile() error {
	m.mu.RLock()
	path := m.configPath
	prefix := m.envPrefix
	m.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(path).WithEnvPrefix(prefix).Load()
	if err != nil {
		m.logger.Error("failed to load config from file, keeping current config",
			zap.Error(err), zap.String("path", path))
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		m.logger.Error("invalid config from file, keeping current config",
			zap.Error(err), zap.String("path", path))
		return fmt.Errorf("invalid config: %w", err)
	}

	return m.Apply(newConfig, "file")
}

// Apply 应用新配置。
// 变更检测与替换在同一把锁内完成，回调在锁外执行以避免死锁。
// 回调失败时恢复之前的配置。
func (m *ReloadManager) Apply(newConfig *Config, source string) error {
	m.mu.Lock()

	oldConfig := m.config
	changes := detectChanges(oldConfig, newConfig)
	if len(changes) == 0 {
		m.mu.Unlock()
		m.logger.Debug("config unchanged, nothing to apply")
		return nil
	}

	now := time.Now()
	requiresRestart := false
	for i := range changes {
		changes[i].Timestamp = now
		changes[i].Source = source
		changes[i].RequiresRestart = !hotReloadableFields[changes[i].Path]
		if changes[i].RequiresRestart {
			requiresRestart = true
		}
		if isSensitivePath(changes[i].Path) {
			changes[i].OldValue = "[REDACTED]"
			changes[i].NewValue = "[REDACTED]"
		}
	}

	m.previous = deepCopyConfig(oldConfig)
	m.config = newConfig

	changeCallbacks := append([]ChangeCallback(nil), m.changeCallbacks...)
	reloadCallbacks := append([]ReloadCallback(nil), m.reloadCallbacks...)
	m.mu.Unlock()

	for _, change := range changes {
		m.logger.Info("config changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Any("old_value", change.OldValue),
			zap.Any("new_value", change.NewValue),
			zap.Bool("requires_restart", change.RequiresRestart))
	}

	if err := notifyCallbacks(changeCallbacks, reloadCallbacks, oldConfig, newConfig, changes); err != nil {
		m.mu.Lock()
		if m.config == newConfig {
			m.config = m.previous
			m.logger.Error("reload callback failed, restored previous config", zap.Error(err))
		}
		m.mu.Unlock()
		return fmt.Errorf("config applied but callback failed: %w", err)
	}

	if requiresRestart {
		m.logger.Warn("some config changes require restart to take effect")
	}
	m.logger.Info("config reloaded",
		zap.Int("changes", len(changes)),
		zap.String("source", source))

	return nil
}

// notifyCallbacks 通知回调，捕获 panic
func notifyCallbacks(changeCallbacks []ChangeCallback, reloadCallbacks []ReloadCallback, oldConfig, newConfig *Config, changes []ConfigChange) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("callback panicked: %v", r)
		}
	}()

	for _, cb := range changeCallbacks {
		for _, change := range changes {
			cb(change)
		}
	}
	for _, cb := range reloadCallbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// --- 变更检测 ---

// detectChanges 对比新旧配置，返回逐字段变更列表
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange

	oldVal := reflect.ValueOf(oldConfig).Elem()
	newVal := reflect.ValueOf(newConfig).Elem()
	compareStructs("", oldVal, newVal, &changes)

	return changes
}

// compareStructs 递归比较结构体字段
func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		if oldField.Kind() == reflect.Struct {
			compareStructs(fieldPath, oldField, newField, changes)
			continue
		}

		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     fieldPath,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

// isSensitivePath 判断路径是否指向敏感字段
func isSensitivePath(path string) bool {
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// deepCopyConfig 深拷贝配置（JSON 序列化往返）
func deepCopyConfig(config *Config) *Config {
	data, err := json.Marshal(config)
	if err != nil {
		return config
	}
	var copied Config
	if err := json.Unmarshal(data, &copied); err != nil {
		return config
	}
	return &copied
}
