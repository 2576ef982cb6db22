// Package contacts はお問い合わせフォームの保存と一覧を提供します。
package contacts

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Contact はお問い合わせ1件です。
type Contact struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Age         int       `gorm:"not null" json:"age"`
	Country     string    `gorm:"not null" json:"country"`
	Email       string    `gorm:"not null;index" json:"email"`
	Description string    `gorm:"not null" json:"description"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
}

// Store はお問い合わせの保存先です。
type Store struct {
	db *gorm.DB
}

// Open は SQLite データベースを開き、テーブルを作成します。
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("お問い合わせDBのオープンに失敗しました: %w", err)
	}
	if err := db.AutoMigrate(&Contact{}); err != nil {
		return nil, fmt.Errorf("お問い合わせテーブルの作成に失敗しました: %w", err)
	}
	return &Store{db: db}, nil
}

// Close はDB接続を閉じます。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create は contact を保存します。ID と CreatedAt は保存時に設定されます。
func (s *Store) Create(ctx context.Context, contact *Contact) error {
	return s.db.WithContext(ctx).Create(contact).Error
}

// List は新しい順に contact を返します。total は全件数です。
func (s *Store) List(ctx context.Context, limit, offset int) (rows []Contact, total int64, err error) {
	db := s.db.WithContext(ctx)
	if err := db.Model(&Contact{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("created_at desc").Order("id desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
