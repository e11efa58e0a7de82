// Package gormrepo persists layers in PostgreSQL through gorm.
package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
)

type Repo struct {
	db *gorm.DB
}

// Open connects to dsn with gorm's own logging silenced; callers log
// repository errors themselves.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

// Migrate creates or updates the layers table.
func (r *Repo) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&layer.Layer{}); err != nil {
		return fmt.Errorf("migrate layers: %w", err)
	}
	return nil
}

func (r *Repo) Create(ctx context.Context, l *layer.Layer) error {
	if err := r.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("create layer: %w", err)
	}
	return nil
}

func (r *Repo) Load(ctx context.Context, id uint64) (*layer.Layer, error) {
	var l layer.Layer
	err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load layer %d: %w", id, layer.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load layer %d: %w", id, err)
	}
	return &l, nil
}

// Update reads the row under a lock, applies u and saves the whole record.
func (r *Repo) Update(ctx context.Context, id uint64, u layer.Update) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l layer.Layer
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&l, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return layer.ErrNotFound
		}
		if err != nil {
			return err
		}
		u.Apply(&l)
		return tx.Save(&l).Error
	})
	if err != nil {
		return fmt.Errorf("update layer %d: %w", id, err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Delete(&layer.Layer{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete layer %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete layer %d: %w", id, layer.ErrNotFound)
	}
	return nil
}

func (r *Repo) ListStale(ctx context.Context, status layer.Status, before time.Time) ([]*layer.Layer, error) {
	var out []*layer.Layer
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list %s layers: %w", status, err)
	}
	return out, nil
}
