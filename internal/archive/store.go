// Package archive 将捕获的图片与元数据按日期分片写入磁盘，并按ID去重。
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"cdpcapture/internal/logger"
)

var (
	ErrDuplicateID   = errors.New("archive: duplicate id")
	ErrEmptyPayload  = errors.New("archive: empty payload")
	ErrUnknownFormat = errors.New("archive: unknown format")
)

const (
	imagesDir = "images"
	metaDir   = "database"
	metaExt   = ".json"

	// NoPrompt 缺省提示词占位
	NoPrompt = "[no prompt]"
)

// Details 调用方提供的元数据
type Details struct {
	Prompt       string
	UnixTime     int64           // 秒；为 0 时取当前时间
	SourceURL    string
	Extra        json.RawMessage // 额外字段，须为 JSON 对象
	SkipMetadata bool            // 仅写图片，不写元数据也不更新索引
}

// Record 一次写入的结果
type Record struct {
	ID        string
	Prompt    string
	UnixTime  int64
	Format    string
	File      string // 相对归档根目录
	MetaFile  string // 相对归档根目录，SkipMetadata 时为空
	Size      int
	SourceURL string
	Duplicate bool
}

// Catalog 记录已归档的条目，失败不影响归档结果
type Catalog interface {
	Record(ctx context.Context, rec Record) error
}

// Options 归档配置
type Options struct {
	Root     string
	Index    *Index         // 为空时新建并从磁盘重建
	Catalog  Catalog        // 可选
	Location *time.Location // 分片使用的时区，默认本地时区
	Now      func() time.Time
	Logger   logger.Logger
}

// Store 归档存储
type Store struct {
	root    string
	index   *Index
	catalog Catalog
	loc     *time.Location
	now     func() time.Time
	log     logger.Logger

	mu sync.Mutex
}

// Open 创建归档存储并重建ID索引
func Open(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("archive root is empty")
	}
	s := &Store{
		root:    opts.Root,
		index:   opts.Index,
		catalog: opts.Catalog,
		loc:     opts.Location,
		now:     opts.Now,
		log:     opts.Logger,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.index == nil {
		s.index = NewIndex()
		n, err := s.index.Rebuild(filepath.Join(s.root, metaDir))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("扫描元数据目录失败，索引从空开始", "root", s.root, "error", err)
		} else {
			s.log.Info("已重建归档索引", "root", s.root, "count", n)
		}
	}
	return s, nil
}

// Root 返回归档根目录
func (s *Store) Root() string { return s.root }

// Index 返回ID索引
func (s *Store) Index() *Index { return s.index }

// Check 若ID已归档返回 ErrDuplicateID
func (s *Store) Check(id string) error {
	if id != "" && s.index.Has(id) {
		return ErrDuplicateID
	}
	return nil
}

// Persist 写入图片与元数据；已存在的ID直接返回 Duplicate 记录
func (s *Store) Persist(ctx context.Context, id string, d Details, data []byte) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.Check(id); err != nil {
		s.log.Debug("跳过已归档的记录", "id", id)
		return Record{ID: id, Duplicate: true}, nil
	}
	if id == "" {
		id = uuid.NewString()
	}
	format, err := Sniff(data)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:        id,
		Prompt:    d.Prompt,
		UnixTime:  d.UnixTime,
		Format:    format.Name,
		Size:      len(data),
		SourceURL: d.SourceURL,
	}
	if rec.Prompt == "" {
		rec.Prompt = NoPrompt
	}
	if rec.UnixTime == 0 {
		rec.UnixTime = s.now().Unix()
	}

	shard := ShardPath(rec.UnixTime, s.loc)
	rec.File = filepath.Join(imagesDir, shard, ArtifactName(id, rec.Prompt)+"."+format.Ext)
	if err := writeFileAtomic(filepath.Join(s.root, rec.File), data); err != nil {
		return Record{}, fmt.Errorf("write artifact: %w", err)
	}
	if d.SkipMetadata {
		s.log.Info("已归档图片（无元数据）", "id", id, "file", rec.File)
		return rec, nil
	}

	meta, err := metadata(rec, d.Extra)
	if err != nil {
		return Record{}, err
	}
	rec.MetaFile = filepath.Join(metaDir, shard, id+metaExt)
	if err := writeFileAtomic(filepath.Join(s.root, rec.MetaFile), meta); err != nil {
		return Record{}, fmt.Errorf("write metadata: %w", err)
	}
	s.index.Add(id)
	s.log.Info("已归档图片", "id", id, "file", rec.File, "format", rec.Format, "size", rec.Size)

	if s.catalog != nil {
		if err := s.catalog.Record(ctx, rec); err != nil {
			s.log.Err(err, "写入归档目录表失败", "id", id)
		}
	}
	return rec, nil
}

// Scan 遍历全部元数据文件并回调解析出的记录，无法解析的文件被跳过
func (s *Store) Scan(ctx context.Context, fn func(Record) error) (int, error) {
	dir := filepath.Join(s.root, metaDir)
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), metaExt) {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil || !gjson.ValidBytes(raw) {
			s.log.Warn("跳过无法读取的元数据", "path", path, "error", err)
			return nil
		}
		rel, _ := filepath.Rel(s.root, path)
		doc := gjson.ParseBytes(raw)
		rec := Record{
			ID:        strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			Prompt:    doc.Get("prompt").String(),
			UnixTime:  doc.Get("unixTime").Int(),
			Format:    doc.Get("format").String(),
			File:      filepath.FromSlash(doc.Get("file").String()),
			MetaFile:  rel,
			Size:      int(doc.Get("size").Int()),
			SourceURL: doc.Get("sourceUrl").String(),
		}
		n++
		return fn(rec)
	})
	return n, err
}

// ShardPath 按时区内的日历日期生成 <年>/<月>/<日>，不补零
func ShardPath(unix int64, loc *time.Location) string {
	t := time.Unix(unix, 0).In(loc)
	return filepath.Join(strconv.Itoa(t.Year()), strconv.Itoa(int(t.Month())), strconv.Itoa(t.Day()))
}

// metadata 以调用方额外字段为底，写入记录字段并格式化
func metadata(rec Record, extra json.RawMessage) ([]byte, error) {
	doc := []byte(`{}`)
	if len(extra) > 0 {
		if !json.Valid(extra) || extra[0] != '{' {
			return nil, fmt.Errorf("metadata extra must be a JSON object")
		}
		doc = append([]byte(nil), extra...)
	}
	type field struct {
		path  string
		value any
	}
	fields := []field{
		{"id", rec.ID},
		{"prompt", rec.Prompt},
		{"unixTime", rec.UnixTime},
		{"file", filepath.ToSlash(rec.File)},
		{"format", rec.Format},
		{"size", rec.Size},
	}
	if rec.SourceURL != "" {
		fields = append(fields, field{"sourceUrl", rec.SourceURL})
	}
	var err error
	for _, f := range fields {
		if doc, err = sjson.SetBytes(doc, f.path, f.value); err != nil {
			return nil, fmt.Errorf("build metadata: %w", err)
		}
	}
	return pretty.Pretty(doc), nil
}

// writeFileAtomic 先写临时文件再重命名，必要时创建父目录
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
