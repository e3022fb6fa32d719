package archive

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
)

// Index 已落盘记录的ID集合；集合中的ID必有对应的元数据文件
type Index struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewIndex 创建空索引
func NewIndex() *Index {
	return &Index{ids: make(map[string]struct{})}
}

// Has 是否已存在
func (x *Index) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.ids[id]
	return ok
}

// Add 加入ID
func (x *Index) Add(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids[id] = struct{}{}
}

// Len 返回ID数量
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// IDs 返回全部ID（无序）
func (x *Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.ids))
	for id := range x.ids {
		out = append(out, id)
	}
	return out
}

// Rebuild 递归扫描元数据目录，以文件名（去扩展名）作为已知ID；扫描错误被容忍
func (x *Index) Rebuild(dir string) (int, error) {
	ids := make(map[string]struct{})
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), metaExt) {
			return nil
		}
		ids[strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))] = struct{}{}
		return nil
	})

	x.mu.Lock()
	x.ids = ids
	x.mu.Unlock()
	return len(ids), err
}
