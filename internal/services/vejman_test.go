package services

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"tilsynsapp/internal/geo"
	"tilsynsapp/internal/metrics"
	"tilsynsapp/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seededRemote() *fakeRowsRemote {
	f := newFakeRowsRemote()
	ny := row("1", "Ny")
	ny.FirmaNavn = models.StringPtr("Byg & Co ApS")
	ny.Kvadratmeter = f32(10)
	ny.Tilladelsestype = models.StringPtr("Henstilling Kran m2")
	ny.Slutdato = models.StringPtr("2025-06-30")
	f.rows[models.StatusNy] = []models.VejmanKassenRow{ny, row("2", "Ny")}
	f.rows[models.StatusTilFakturering] = []models.VejmanKassenRow{row("3", "Til fakturering")}
	f.rows[models.StatusFakturerIkke] = []models.VejmanKassenRow{row("4", "Fakturer ikke")}
	f.rows[models.StatusFaktureret] = []models.VejmanKassenRow{row("5", "Faktureret"), row("6", "Faktureret")}
	return f
}

func newTestVejmanService(t *testing.T, remote RowsRemote, cache CacheStore) *VejmanService {
	t.Helper()
	return NewVejmanService(remote, cache, staticEmail("kw@example.dk"), 5*time.Minute, zap.NewNop(), nil)
}

func TestFetchAllRowsAndCache(t *testing.T) {
	ctx := context.Background()
	remote := seededRemote()
	cache := newTestCache(t)
	m, err := metrics.New()
	require.NoError(t, err)

	s := NewVejmanService(remote, cache, nil, 5*time.Minute, zap.NewNop(), m)
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	require.Equal(t, 4, remote.fetchCount())
	require.Equal(t, []string{"1", "2"}, ids(s.Rows("", nil)))

	st := s.State()
	require.Equal(t, models.StatusNy, st.ActiveFilter)
	require.False(t, st.Refreshing)
	require.Empty(t, st.LoadingStatus)
	require.False(t, st.LastRefresh.IsZero())
	require.Equal(t, 2, st.Counts["Faktureret"])

	all, err := cache.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 6)

	require.Contains(t, scrape(t, m), `tilsyn_cached_rows{status="Faktureret"} 2`)
}

func TestFetchStampsMissingStatus(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRowsRemote()
	remote.rows[models.StatusTilFakturering] = []models.VejmanKassenRow{{ID: "x"}}
	cache := newTestCache(t)

	s := newTestVejmanService(t, remote, cache)
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	cached, err := cache.ByStatus(ctx, models.StatusTilFakturering)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, ids(cached))
}

func TestFetchKeepsCachedRowsForFailedStatus(t *testing.T) {
	ctx := context.Background()
	remote := seededRemote()
	cache := newTestCache(t)
	s := newTestVejmanService(t, remote, cache)
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	remote.mu.Lock()
	remote.rows[models.StatusNy] = []models.VejmanKassenRow{row("7", "Ny")}
	remote.errs[models.StatusFaktureret] = errors.New("boom")
	remote.mu.Unlock()

	err := s.FetchAllRowsAndCache(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Faktureret")

	// the successful status was replaced
	require.Equal(t, []string{"7"}, ids(s.Rows("", nil)))

	// the failed status still has the rows of the last good fetch
	s.SetActiveFilter(models.StatusFaktureret)
	require.Equal(t, []string{"5", "6"}, ids(s.Rows("", nil)))

	cached, err := cache.ByStatus(ctx, models.StatusFaktureret)
	require.NoError(t, err)
	require.Equal(t, []string{"5", "6"}, ids(cached))
}

func TestCancelledRefreshKeepsRows(t *testing.T) {
	remote := seededRemote()
	cache := newTestCache(t)
	s := newTestVejmanService(t, remote, cache)
	require.NoError(t, s.FetchAllRowsAndCache(context.Background()))
	before := s.State().LastRefresh

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.FetchAllRowsAndCache(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, []string{"1", "2"}, ids(s.Rows("", nil)))
	r, err := s.FindRow("5")
	require.NoError(t, err)
	require.Equal(t, "Faktureret", *r.FakturaStatus)
	require.Equal(t, before, s.State().LastRefresh)
}

// brokenReadCache fails every read, as a closed database would.
type brokenReadCache struct {
	*VejmanCache
}

func (brokenReadCache) ByStatus(context.Context, models.FakturaStatus) ([]models.VejmanKassenRow, error) {
	return nil, errors.New("database is closed")
}

func TestFailedFetchAndCacheReadKeepsGroups(t *testing.T) {
	ctx := context.Background()
	remote := seededRemote()
	s := newTestVejmanService(t, remote, brokenReadCache{newTestCache(t)})
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	remote.mu.Lock()
	remote.errs[models.StatusNy] = errors.New("offline")
	remote.mu.Unlock()

	err := s.FetchAllRowsAndCache(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "database is closed")
	require.Equal(t, []string{"1", "2"}, ids(s.Rows("", nil)))
}

func TestFetchAllFailedLeavesLastRefreshUnset(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRowsRemote()
	for _, st := range models.AllStatuses {
		remote.errs[st] = errors.New("offline")
	}
	cache := newTestCache(t)
	s := newTestVejmanService(t, remote, cache)

	require.Error(t, s.FetchAllRowsAndCache(ctx))
	require.True(t, s.State().LastRefresh.IsZero())

	last, err := cache.LastRefresh(ctx)
	require.NoError(t, err)
	require.True(t, last.IsZero())
}

func TestPreloadUsesCacheWithinInterval(t *testing.T) {
	ctx := context.Background()
	remote := seededRemote()
	cache := newTestCache(t)

	first := newTestVejmanService(t, remote, cache)
	require.NoError(t, first.PreloadAndMaybeRefresh(ctx, false))
	require.Equal(t, 4, remote.fetchCount())

	// a new process with the same cache does not refetch
	second := newTestVejmanService(t, remote, cache)
	second.SetActiveFilter(models.StatusFaktureret)
	require.NoError(t, second.PreloadAndMaybeRefresh(ctx, false))
	require.Equal(t, 4, remote.fetchCount())
	require.Equal(t, models.StatusNy, second.ActiveFilter())
	require.Equal(t, []string{"1", "2"}, ids(second.Rows("", nil)))

	// forcing always refetches
	require.NoError(t, second.PreloadAndMaybeRefresh(ctx, true))
	require.Equal(t, 8, remote.fetchCount())
}

func TestPreloadRefreshesWhenStale(t *testing.T) {
	ctx := context.Background()
	remote := seededRemote()
	cache := newTestCache(t)

	s := newTestVejmanService(t, remote, cache)
	require.NoError(t, s.PreloadAndMaybeRefresh(ctx, false))
	require.Equal(t, 4, remote.fetchCount())

	s.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	require.NoError(t, s.PreloadAndMaybeRefresh(ctx, false))
	require.Equal(t, 8, remote.fetchCount())
}

func TestPreloadGroupsMissingStatusAsUnknown(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	require.NoError(t, cache.InsertAll(ctx, []models.VejmanKassenRow{row("1", "Ny"), row("2", "")}))
	require.NoError(t, cache.SetLastRefresh(ctx, time.Now()))

	s := newTestVejmanService(t, newFakeRowsRemote(), cache)
	require.NoError(t, s.PreloadAndMaybeRefresh(ctx, false))

	require.Equal(t, 1, s.State().Counts["Ukendt"])
	s.SetActiveFilter(models.StatusUnknown)
	require.Equal(t, []string{"2"}, ids(s.Rows("", nil)))
}

func TestRegroupDropsStaleCountGauges(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRowsRemote()
	remote.rows[models.StatusNy] = []models.VejmanKassenRow{row("1", "Ny")}
	m, err := metrics.New()
	require.NoError(t, err)

	s := NewVejmanService(remote, newTestCache(t), nil, 5*time.Minute, zap.NewNop(), m)
	require.NoError(t, s.FetchAllRowsAndCache(ctx))
	require.Contains(t, scrape(t, m), `tilsyn_cached_rows{status="Faktureret"} 0`)

	// within the interval the groups are rebuilt from the cache, which only
	// holds Ny rows
	require.NoError(t, s.PreloadAndMaybeRefresh(ctx, false))
	body := scrape(t, m)
	require.Contains(t, body, `tilsyn_cached_rows{status="Ny"} 1`)
	require.NotContains(t, body, `tilsyn_cached_rows{status="Faktureret"}`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRowsSearchAndDistance(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRowsRemote()
	near := row("near", "Ny")
	near.Adresse = models.StringPtr("Åboulevarden 10")
	near.Latitude, near.Longitude = f64(56.1572), f64(10.2107)
	far := row("far", "Ny")
	far.Adresse = models.StringPtr("Åboulevarden 90")
	far.Latitude, far.Longitude = f64(56.2), f64(10.2)
	other := row("other", "Ny")
	other.Adresse = models.StringPtr("Vestergade 1")
	other.FirmaNavn = models.StringPtr("ÅBO Stilladser")
	none := models.VejmanKassenRow{ID: "none", FakturaStatus: models.StringPtr("Ny")}
	remote.rows[models.StatusNy] = []models.VejmanKassenRow{far, other, none, near}

	s := newTestVejmanService(t, remote, newTestCache(t))
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	require.Equal(t, []string{"far", "other", "near"}, ids(s.Rows("", nil)))
	require.Equal(t, []string{"far", "other", "near"}, ids(s.Rows("åbo", nil)))
	require.Equal(t, []string{"other"}, ids(s.Rows("stillads", nil)))

	here := geo.Location{Lat: 56.1572, Lon: 10.2107}
	sorted := s.Rows("åboulevarden", &here)
	require.Equal(t, []string{"near", "far"}, ids(sorted))
	require.InDelta(t, 0, *sorted[0].DistanceFromCurrent, 1)
}

func TestFindRow(t *testing.T) {
	s := newTestVejmanService(t, seededRemote(), newTestCache(t))
	require.NoError(t, s.FetchAllRowsAndCache(context.Background()))

	r, err := s.FindRow("4")
	require.NoError(t, err)
	require.Equal(t, "Fakturer ikke", *r.FakturaStatus)

	_, err = s.FindRow("nope")
	require.ErrorIs(t, err, ErrRowNotFound)
}

func TestUpdateRowSendsChangedFieldsOnly(t *testing.T) {
	ctx := context.Background()
	remote := seededRemote()
	cache := newTestCache(t)
	s := newTestVejmanService(t, remote, cache)
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	orig, err := s.FindRow("1")
	require.NoError(t, err)
	edited := orig
	edited.Kvadratmeter = f32(12.5)
	edited.Slutdato = nil // cleared values are not sent

	require.NoError(t, s.UpdateRow(ctx, edited, nil))

	require.Len(t, remote.updates, 1)
	call := remote.updates[0]
	require.Equal(t, "1", call.id)
	require.Equal(t, map[string]any{"kvadratmeter": float32(12.5)}, call.updates)
	require.Equal(t, "Ny", *call.oldStatus)
	require.Equal(t, "Ny", *call.newStatus)
	require.Equal(t, "kw@example.dk", call.userEmail)

	got, err := s.FindRow("1")
	require.NoError(t, err)
	require.Equal(t, float32(12.5), *got.Kvadratmeter)
	// draft keeps its place in the list
	require.Equal(t, []string{"1", "2"}, ids(s.Rows("", nil)))

	cached, err := cache.ByStatus(ctx, models.StatusNy)
	require.NoError(t, err)
	require.Equal(t, float32(12.5), *cached[0].Kvadratmeter)
}

func TestUpdateRowNoChanges(t *testing.T) {
	ctx := context.Background()
	remote := seededRemote()
	s := newTestVejmanService(t, remote, newTestCache(t))
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	orig, err := s.FindRow("1")
	require.NoError(t, err)

	require.ErrorIs(t, s.UpdateRow(ctx, orig, nil), ErrNoChanges)
	require.Empty(t, remote.updates)
}

func TestUpdateRowListDateIsNotAChange(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRowsRemote()
	r := row("1", "Ny")
	r.Kvadratmeter = f32(8)
	r.Slutdato = models.StringPtr("Mon, 30 Jun 2025 00:00:00 GMT")
	remote.rows[models.StatusNy] = []models.VejmanKassenRow{r}
	s := newTestVejmanService(t, remote, newTestCache(t))
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	orig, err := s.FindRow("1")
	require.NoError(t, err)
	e := NewEditSession(orig)
	require.Equal(t, "30-06-2025", e.SlutdatoText())

	draft, err := e.ActionFor(nil)
	require.NoError(t, err)
	require.ErrorIs(t, s.UpdateRow(ctx, e.Build(draft), nil), ErrNoChanges)
	require.Empty(t, remote.updates)

	// the same day in the other layout is not a change either
	same := orig
	same.Slutdato = models.StringPtr("2025-06-30")
	require.ErrorIs(t, s.UpdateRow(ctx, same, nil), ErrNoChanges)

	next := models.StatusTilFakturering
	send, err := e.ActionFor(&next)
	require.NoError(t, err)
	require.NoError(t, s.UpdateRow(ctx, e.Build(send), send.NewStatus))
	require.Len(t, remote.updates, 1)
	require.Equal(t, map[string]any{"fakturaStatus": "Til fakturering"}, remote.updates[0].updates)
}

func TestUpdateRowMovesRowBetweenGroups(t *testing.T) {
	ctx := context.Background()
	remote := seededRemote()
	cache := newTestCache(t)
	s := newTestVejmanService(t, remote, cache)
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	orig, err := s.FindRow("2")
	require.NoError(t, err)
	next := models.StatusTilFakturering
	require.NoError(t, s.UpdateRow(ctx, orig, &next))

	require.Equal(t, map[string]any{"fakturaStatus": "Til fakturering"}, remote.updates[0].updates)
	require.Equal(t, "Ny", *remote.updates[0].oldStatus)
	require.Equal(t, "Til fakturering", *remote.updates[0].newStatus)

	require.Equal(t, []string{"1"}, ids(s.Rows("", nil)))
	s.SetActiveFilter(models.StatusTilFakturering)
	require.Equal(t, []string{"3", "2"}, ids(s.Rows("", nil)))
	require.Equal(t, 1, s.State().Counts["Ny"])

	cached, err := cache.ByStatus(ctx, models.StatusTilFakturering)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"2", "3"}, ids(cached))
}

func TestUpdateRowUnknownSendsAllFields(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRowsRemote()
	s := newTestVejmanService(t, remote, newTestCache(t))

	r := models.VejmanKassenRow{
		ID:              "ghost",
		Kvadratmeter:    f32(3),
		Tilladelsestype: models.StringPtr("Henstilling Lift m2"),
	}
	require.NoError(t, s.UpdateRow(ctx, r, nil))

	call := remote.updates[0]
	require.Equal(t, map[string]any{
		"kvadratmeter":    float32(3),
		"tilladelsestype": "Henstilling Lift m2",
	}, call.updates)
	require.Nil(t, call.oldStatus)

	got, err := s.FindRow("ghost")
	require.NoError(t, err)
	require.Equal(t, "ghost", got.ID)
}

func TestUpdateRowServerFailureLeavesState(t *testing.T) {
	ctx := context.Background()
	remote := seededRemote()
	remote.updateErr = errors.New("500")
	s := newTestVejmanService(t, remote, newTestCache(t))
	require.NoError(t, s.FetchAllRowsAndCache(ctx))

	orig, err := s.FindRow("1")
	require.NoError(t, err)
	next := models.StatusFakturerIkke
	require.Error(t, s.UpdateRow(ctx, orig, &next))

	got, err := s.FindRow("1")
	require.NoError(t, err)
	require.Equal(t, "Ny", *got.FakturaStatus)
}
