// Package postgres implements the store interfaces on PostgreSQL via GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/inklet-io/inklet/pkg/presence"
	"github.com/inklet-io/inklet/pkg/store"
)

type Store struct {
	db *gorm.DB
}

var _ store.DocumentStore = (*Store)(nil)
var _ store.UserDirectory = (*Store)(nil)

// New opens a connection using the given DSN. The schema is created lazily
// by Migrate; call it once at startup.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate creates missing tables and indexes. Safe to run repeatedly; GORM's
// AutoMigrate only adds schema elements.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&store.Document{},
		&store.Profile{},
	)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Load(ctx context.Context, documentID string) (string, error) {
	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

func (s *Store) Persist(ctx context.Context, documentID, content string) error {
	res := s.db.WithContext(ctx).
		Model(&store.Document{}).
		Where("id = ?", documentID).
		Update("content", content)
	if res.Error != nil {
		return fmt.Errorf("persisting document %s: %w", documentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, documentID string) (*store.Document, error) {
	var doc store.Document
	err := s.db.WithContext(ctx).First(&doc, "id = ?", documentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", documentID, err)
	}
	return &doc, nil
}

func (s *Store) Put(ctx context.Context, doc *store.Document) error {
	if err := s.db.WithContext(ctx).Save(doc).Error; err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) ResolveDisplayInfo(ctx context.Context, userID string) (store.DisplayInfo, error) {
	var p store.Profile
	err := s.db.WithContext(ctx).First(&p, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.DisplayInfo{}, store.ErrNotFound
	}
	if err != nil {
		return store.DisplayInfo{}, fmt.Errorf("resolving user %s: %w", userID, err)
	}
	return store.DisplayInfo{
		DisplayName: presence.DisplayNameFromEmail(p.Email),
		AvatarURL:   p.AvatarURL,
	}, nil
}
