package services

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"tilsynsapp/internal/models"

	"github.com/uptrace/bun"
)

const metaLastRefresh = "last_refresh"

// CacheStore is the local mirror of the last fetched rows.
type CacheStore interface {
	ByStatus(ctx context.Context, status models.FakturaStatus) ([]models.VejmanKassenRow, error)
	All(ctx context.Context) ([]models.VejmanKassenRow, error)
	InsertAll(ctx context.Context, rows []models.VejmanKassenRow) error
	ReplaceStatus(ctx context.Context, status models.FakturaStatus, rows []models.VejmanKassenRow) error
	ClearStatus(ctx context.Context, status models.FakturaStatus) error
	ClearAll(ctx context.Context) error
	UpdateRow(ctx context.Context, row models.VejmanKassenRow) error
	LastRefresh(ctx context.Context) (time.Time, error)
	SetLastRefresh(ctx context.Context, t time.Time) error
}

// VejmanCache implements CacheStore on top of Bun.
type VejmanCache struct {
	db *bun.DB
}

func NewVejmanCache(db *bun.DB) *VejmanCache {
	return &VejmanCache{db: db}
}

func (c *VejmanCache) ByStatus(ctx context.Context, status models.FakturaStatus) ([]models.VejmanKassenRow, error) {
	rows := make([]models.VejmanKassenRow, 0)
	err := c.db.NewSelect().
		Model(&rows).
		Where("faktura_status = ?", string(status)).
		Order("id ASC").
		Scan(ctx)
	return rows, err
}

func (c *VejmanCache) All(ctx context.Context) ([]models.VejmanKassenRow, error) {
	rows := make([]models.VejmanKassenRow, 0)
	err := c.db.NewSelect().Model(&rows).Order("id ASC").Scan(ctx)
	return rows, err
}

// InsertAll writes rows, replacing any row with the same id.
func (c *VejmanCache) InsertAll(ctx context.Context, rows []models.VejmanKassenRow) error {
	return insertAll(ctx, c.db, rows)
}

func insertAll(ctx context.Context, db bun.IDB, rows []models.VejmanKassenRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := db.NewInsert().Model(&rows).Replace().Exec(ctx)
	return err
}

// ReplaceStatus swaps the cached rows of one status for a fresh fetch.
func (c *VejmanCache) ReplaceStatus(ctx context.Context, status models.FakturaStatus, rows []models.VejmanKassenRow) error {
	return c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.VejmanKassenRow)(nil)).
			Where("faktura_status = ?", string(status)).
			Exec(ctx)
		if err != nil {
			return err
		}
		return insertAll(ctx, tx, rows)
	})
}

func (c *VejmanCache) ClearStatus(ctx context.Context, status models.FakturaStatus) error {
	_, err := c.db.NewDelete().
		Model((*models.VejmanKassenRow)(nil)).
		Where("faktura_status = ?", string(status)).
		Exec(ctx)
	return err
}

func (c *VejmanCache) ClearAll(ctx context.Context) error {
	_, err := c.db.NewDelete().
		Model((*models.VejmanKassenRow)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}

// UpdateRow overwrites a cached row (inserting it when missing).
func (c *VejmanCache) UpdateRow(ctx context.Context, row models.VejmanKassenRow) error {
	return insertAll(ctx, c.db, []models.VejmanKassenRow{row})
}

// LastRefresh returns the zero time when the cache was never refreshed.
func (c *VejmanCache) LastRefresh(ctx context.Context) (time.Time, error) {
	var meta models.CacheMeta
	err := c.db.NewSelect().Model(&meta).Where("? = ?", bun.Ident("key"), metaLastRefresh).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(meta.Value, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

func (c *VejmanCache) SetLastRefresh(ctx context.Context, t time.Time) error {
	meta := &models.CacheMeta{
		Key:       metaLastRefresh,
		Value:     strconv.FormatInt(t.UnixMilli(), 10),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := c.db.NewInsert().Model(meta).Replace().Exec(ctx)
	return err
}
