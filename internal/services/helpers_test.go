package services

import (
	"context"
	"sync"
	"testing"

	"tilsynsapp/internal/database"
	"tilsynsapp/internal/models"

	"github.com/stretchr/testify/require"
)

type updateCall struct {
	id        string
	updates   map[string]any
	oldStatus *string
	newStatus *string
	userEmail string
}

type fakeRowsRemote struct {
	mu        sync.Mutex
	rows      map[models.FakturaStatus][]models.VejmanKassenRow
	errs      map[models.FakturaStatus]error
	updateErr error
	fetches   int
	updates   []updateCall
}

func newFakeRowsRemote() *fakeRowsRemote {
	return &fakeRowsRemote{
		rows: map[models.FakturaStatus][]models.VejmanKassenRow{},
		errs: map[models.FakturaStatus]error{},
	}
}

func (f *fakeRowsRemote) RowsByStatus(ctx context.Context, status models.FakturaStatus) ([]models.VejmanKassenRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.errs[status]; err != nil {
		return nil, err
	}
	out := make([]models.VejmanKassenRow, len(f.rows[status]))
	copy(out, f.rows[status])
	return out, nil
}

func (f *fakeRowsRemote) UpdateRow(_ context.Context, id string, updates map[string]any, oldStatus, newStatus *string, userEmail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updateCall{id: id, updates: updates, oldStatus: oldStatus, newStatus: newStatus, userEmail: userEmail})
	return f.updateErr
}

func (f *fakeRowsRemote) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type staticEmail string

func (e staticEmail) Email() (string, error) { return string(e), nil }

func newTestCache(t *testing.T) *VejmanCache {
	t.Helper()
	db, err := database.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewVejmanCache(db)
}

func row(id, status string) models.VejmanKassenRow {
	r := models.VejmanKassenRow{ID: id, Adresse: models.StringPtr("Vej " + id)}
	if status != "" {
		r.FakturaStatus = models.StringPtr(status)
	}
	return r
}

func f32(v float32) *float32 { return &v }
func f64(v float64) *float64 { return &v }

func ids(rows []models.VejmanKassenRow) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}
