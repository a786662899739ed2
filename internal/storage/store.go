package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cdpmock/internal/logger"
	"cdpmock/pkg/model"

	"github.com/glebarez/sqlite"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// 持久化键，与规则列表和开关的存储格式保持一致
const (
	KeyRules   = "interceptRules"
	KeyEnabled = "isEnabled"
)

// KVRecord 键值记录，值为 JSON 文本
type KVRecord struct {
	Key       string `gorm:"column:name;primaryKey;size:128"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// Store 基于 SQLite 的规则与开关存储
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开数据库并迁移表结构
func Open(dsn, prefix string, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         newSQLLogger(l, gormlogger.Warn, DefaultSlowThreshold),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&KVRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Info("存储已就绪", "dsn", dsn, "prefix", prefix)
	return &Store{db: db, log: l}, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadAll 读取有序规则列表，不存在时返回空列表
func (s *Store) LoadAll(ctx context.Context) ([]model.Rule, error) {
	raw, ok, err := s.get(ctx, KeyRules)
	if err != nil || !ok {
		return nil, err
	}
	var rules []model.Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyRules, err)
	}
	return rules, nil
}

// SaveAll 整体替换规则列表
func (s *Store) SaveAll(ctx context.Context, rules []model.Rule) error {
	if rules == nil {
		rules = []model.Rule{}
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyRules, err)
	}
	return s.set(ctx, KeyRules, raw)
}

// LoadEnabled 读取全局拦截开关，不存在时为 false
func (s *Store) LoadEnabled(ctx context.Context) (bool, error) {
	raw, ok, err := s.get(ctx, KeyEnabled)
	if err != nil || !ok {
		return false, err
	}
	return gjson.ParseBytes(raw).Bool(), nil
}

// SaveEnabled 持久化全局拦截开关
func (s *Store) SaveEnabled(ctx context.Context, enabled bool) error {
	raw, _ := json.Marshal(enabled)
	return s.set(ctx, KeyEnabled, raw)
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec KVRecord
	res := s.db.WithContext(ctx).Where("name = ?", key).Limit(1).Find(&rec)
	if res.Error != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	return []byte(rec.Value), true, nil
}

func (s *Store) set(ctx context.Context, key string, value []byte) error {
	rec := KVRecord{Key: key, Value: string(value)}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
