package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Create ensures the type T is saved to the database.
func Create[T any](ctx context.Context, db *gorm.DB, entity *T) error {
	return gorm.G[T](db).Create(ctx, entity)
}

// FindByID finds a record of type T by its ID.
func FindByID[T any](ctx context.Context, db *gorm.DB, id uint) (*T, error) {
	return gorm.G[*T](db).Where("id = ?", id).First(ctx)
}

// FindDuplicate looks for a font of userID with the same checksum and returns
// the object path it was stored under.
func FindDuplicate(ctx context.Context, db *gorm.DB, userID uuid.UUID, checksum string) (string, bool, error) {
	rec, err := gorm.G[FontRecord](db).
		Where("user_id = ? AND checksum = ?", userID, checksum).
		First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find duplicate: %w", err)
	}
	return rec.ObjectPath, true, nil
}

// InsertFonts stores all records in one transaction.
func InsertFonts(ctx context.Context, db *gorm.DB, records []FontRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return gorm.G[FontRecord](tx).CreateInBatches(ctx, &records, 100)
	})
	if err != nil {
		return fmt.Errorf("insert fonts: %w", err)
	}
	return nil
}

// ListFonts returns the fonts of userID ordered by object path.
func ListFonts(ctx context.Context, db *gorm.DB, userID uuid.UUID) ([]FontRecord, error) {
	recs, err := gorm.G[FontRecord](db).
		Where("user_id = ?", userID).
		Order("object_path").
		Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fonts: %w", err)
	}
	return recs, nil
}

// DeleteByPath removes the metadata rows of userID stored under path and
// reports how many were removed.
func DeleteByPath(ctx context.Context, db *gorm.DB, userID uuid.UUID, path string) (int, error) {
	n, err := gorm.G[FontRecord](db).
		Where("user_id = ? AND object_path = ?", userID, path).
		Delete(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete font %s: %w", path, err)
	}
	return n, nil
}
