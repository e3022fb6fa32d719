// Package storage 使用 SQLite 记录已归档条目，便于检索与统计。
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"cdpcapture/internal/archive"
	ilog "cdpcapture/internal/logger"
)

// ArtifactRecord 归档条目表
type ArtifactRecord struct {
	ID        string `gorm:"primaryKey;size:128"`
	Prompt    string `gorm:"type:text"`
	UnixTime  int64  `gorm:"index"`
	Format    string `gorm:"size:16"`
	File      string `gorm:"size:512"`
	MetaFile  string `gorm:"size:512"`
	Size      int
	SourceURL string `gorm:"type:text"`
	CreatedAt time.Time
}

// Catalog 归档目录表
type Catalog struct {
	db  *gorm.DB
	log ilog.Logger
}

// Open 打开 SQLite 并迁移表结构；prefix 为表名前缀
func Open(dsn, prefix string, l ilog.Logger) (*Catalog, error) {
	if l == nil {
		l = ilog.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&ArtifactRecord{}); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	l.Info("已打开归档目录表", "dsn", dsn)
	return &Catalog{db: db, log: l}, nil
}

// Record 写入或更新一条记录
func (c *Catalog) Record(ctx context.Context, rec archive.Record) error {
	row := ArtifactRecord{
		ID:        rec.ID,
		Prompt:    rec.Prompt,
		UnixTime:  rec.UnixTime,
		Format:    rec.Format,
		File:      filepath.ToSlash(rec.File),
		MetaFile:  filepath.ToSlash(rec.MetaFile),
		Size:      rec.Size,
		SourceURL: rec.SourceURL,
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// Get 按ID查询
func (c *Catalog) Get(ctx context.Context, id string) (*ArtifactRecord, error) {
	var row ArtifactRecord
	err := c.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Count 返回记录数
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&ArtifactRecord{}).Count(&n).Error
	return n, err
}

// Between 返回时间范围内的记录，按时间升序
func (c *Catalog) Between(ctx context.Context, from, to time.Time) ([]ArtifactRecord, error) {
	var rows []ArtifactRecord
	err := c.db.WithContext(ctx).
		Where("unix_time >= ? AND unix_time < ?", from.Unix(), to.Unix()).
		Order("unix_time").
		Find(&rows).Error
	return rows, err
}

// Close 关闭底层连接
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
