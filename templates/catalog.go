package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/workflow"
)

// Entry 单个模板及其加载状态
type Entry struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	File        string                     `json:"file"`
	Hash        string                     `json:"hash,omitempty"`
	Valid       bool                       `json:"valid"`
	Validation  *workflow.ValidationResult `json:"validation,omitempty"`
	LoadError   string                     `json:"load_error,omitempty"`
	LoadedAt    time.Time                  `json:"loaded_at"`
	Definition  *workflow.Definition       `json:"definition,omitempty"`
}

// Catalog 线程安全的模板目录
type Catalog struct {
	mu        sync.RWMutex
	dir       string
	entries   map[string]*Entry
	failures  []*Entry
	validator *workflow.Validator
	logger    *zap.Logger
}

// NewCatalog 创建空目录；validator 为 nil 时只做解析不做校验
func NewCatalog(validator *workflow.Validator, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		entries:   make(map[string]*Entry),
		validator: validator,
		logger:    logger.With(zap.String("component", "templates")),
	}
}

// Load 设置目录并加载
func (c *Catalog) Load(dir string) error {
	c.mu.Lock()
	c.dir = dir
	c.mu.Unlock()
	return c.Reload()
}

// Reload 重新扫描目录，整体替换当前内容。目录不可读时保留旧内容并返回错误。
func (c *Catalog) Reload() error {
	c.mu.RLock()
	dir := c.dir
	c.mu.RUnlock()
	if dir == "" {
		return nil
	}

	files, err := definitionFiles(dir)
	if err != nil {
		return err
	}

	entries := make(map[string]*Entry, len(files))
	var failures []*Entry
	now := time.Now().UTC()
	for _, file := range files {
		e := c.loadFile(file, now)
		switch {
		case e.ID == "":
			failures = append(failures, e)
		case entries[e.ID] != nil:
			e.LoadError = fmt.Sprintf("duplicate workflow id %q (already defined in %s)", e.ID, entries[e.ID].File)
			e.Valid = false
			failures = append(failures, e)
		default:
			entries[e.ID] = e
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.failures = failures
	c.mu.Unlock()

	c.logger.Info("templates loaded",
		zap.String("dir", dir),
		zap.Int("templates", len(entries)),
		zap.Int("failures", len(failures)))
	return nil
}

func (c *Catalog) loadFile(file string, now time.Time) *Entry {
	e := &Entry{File: filepath.Base(file), LoadedAt: now}

	def, err := workflow.LoadDefinitionFile(file)
	if err != nil {
		e.LoadError = err.Error()
		c.logger.Warn("failed to load template", zap.String("file", file), zap.Error(err))
		return e
	}
	if def.ID == "" {
		e.LoadError = "workflow id is required"
		return e
	}

	e.ID = def.ID
	e.Name = def.Name
	e.Description = def.Description
	e.Definition = def
	if hash, err := def.Hash(); err == nil {
		e.Hash = hash
	}

	e.Valid = true
	if c.validator != nil {
		e.Validation = c.validator.Validate(def)
		e.Valid = e.Validation.Valid
		if !e.Valid {
			c.logger.Warn("template failed validation",
				zap.String("workflow_id", def.ID),
				zap.Int("errors", len(e.Validation.Errors)))
		}
	}
	return e
}

// Get 返回指定 id 的模板
func (c *Catalog) Get(id string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Definition 返回可执行的模板定义；未通过校验的模板不返回
func (c *Catalog) Definition(id string) (*workflow.Definition, bool) {
	e, ok := c.Get(id)
	if !ok || !e.Valid {
		return nil, false
	}
	return e.Definition, true
}

// List 按 id 排序返回全部已加载模板
func (c *Catalog) List() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Failures 返回无法加载的文件
func (c *Catalog) Failures() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Entry(nil), c.failures...)
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Catalog) Dir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dir
}

// definitionFiles 按文件名排序列出目录中的定义文件
func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isDefinitionFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
