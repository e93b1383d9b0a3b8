package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tilsynsapp/internal/geo"
	"tilsynsapp/internal/metrics"
	"tilsynsapp/internal/models"
	"tilsynsapp/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const LoadingMessage = "Henter fakturaer..."

var (
	ErrNoChanges   = errors.New("no changed fields to update")
	ErrRowNotFound = errors.New("row not found")
)

// RowsRemote is the part of the backend client the row service needs.
type RowsRemote interface {
	RowsByStatus(ctx context.Context, status models.FakturaStatus) ([]models.VejmanKassenRow, error)
	UpdateRow(ctx context.Context, id string, updates map[string]any, oldStatus, newStatus *string, userEmail string) error
}

// EmailSource returns the signed-in user's email.
type EmailSource interface {
	Email() (string, error)
}

// VejmanState is a snapshot of the row service state.
type VejmanState struct {
	ActiveFilter  models.FakturaStatus `json:"active_filter"`
	LoadingStatus string               `json:"loading_status,omitempty"`
	Refreshing    bool                 `json:"refreshing"`
	LastRefresh   time.Time            `json:"last_refresh"`
	Counts        map[string]int       `json:"counts"`
}

type VejmanService struct {
	remote          RowsRemote
	cache           CacheStore
	emails          EmailSource
	logr            *zap.Logger
	metrics         *metrics.Metrics
	refreshInterval time.Duration
	now             func() time.Time

	// serialises refreshes and updates against the backend
	fetchMu sync.Mutex

	mu            sync.RWMutex
	grouped       map[models.FakturaStatus][]models.VejmanKassenRow
	activeFilter  models.FakturaStatus
	currentRows   []models.VejmanKassenRow
	loadingStatus string
	refreshing    bool
	lastRefresh   time.Time
}

func NewVejmanService(remote RowsRemote, cache CacheStore, emails EmailSource, refreshInterval time.Duration, logr *zap.Logger, m *metrics.Metrics) *VejmanService {
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Minute
	}
	return &VejmanService{
		remote:          remote,
		cache:           cache,
		emails:          emails,
		logr:            logr,
		metrics:         m,
		refreshInterval: refreshInterval,
		now:             time.Now,
		grouped:         map[models.FakturaStatus][]models.VejmanKassenRow{},
		activeFilter:    models.StatusNy,
		currentRows:     []models.VejmanKassenRow{},
	}
}

// PreloadAndMaybeRefresh refreshes from the backend when forced or when the
// last refresh is older than the refresh interval. Otherwise the rows are
// regrouped from the cache and the filter reset to Ny.
func (s *VejmanService) PreloadAndMaybeRefresh(ctx context.Context, force bool) error {
	s.setLoading(LoadingMessage)
	defer s.setLoading("")

	last, err := s.lastRefreshTime(ctx)
	if err != nil {
		return err
	}

	if force || s.now().Sub(last) > s.refreshInterval {
		return s.FetchAllRowsAndCache(ctx)
	}

	cached, err := s.cache.All(ctx)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}

	grouped := make(map[models.FakturaStatus][]models.VejmanKassenRow)
	for _, row := range cached {
		grouped[row.GroupKey()] = append(grouped[row.GroupKey()], row)
	}

	s.mu.Lock()
	s.grouped = grouped
	s.lastRefresh = last
	s.mu.Unlock()

	s.publishCounts()
	s.SetActiveFilter(models.StatusNy)
	return nil
}

func (s *VejmanService) lastRefreshTime(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	last := s.lastRefresh
	s.mu.RUnlock()
	if !last.IsZero() {
		return last, nil
	}

	last, err := s.cache.LastRefresh(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("read last refresh: %w", err)
	}
	return last, nil
}

// FetchAllRowsAndCache fetches every status concurrently. Each status that
// succeeds replaces its cached rows; a failed status keeps what the cache
// already had. The returned error joins the per-status failures.
func (s *VejmanService) FetchAllRowsAndCache(ctx context.Context) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.Lock()
	s.refreshing = true
	s.loadingStatus = LoadingMessage
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.loadingStatus = ""
		s.mu.Unlock()
	}()

	s.logr.Debug("fetching all statuses")

	fetched := make([][]models.VejmanKassenRow, len(models.AllStatuses))
	fetchErrs := make([]error, len(models.AllStatuses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(models.AllStatuses))
	for i, status := range models.AllStatuses {
		i, status := i, status
		g.Go(func() error {
			rows, err := s.remote.RowsByStatus(gctx, status)
			if err != nil {
				// one failed status must not cancel the others
				fetchErrs[i] = fmt.Errorf("fetch %q: %w", status, err)
				return nil
			}
			for j := range rows {
				if rows[j].FakturaStatus == nil {
					rows[j] = rows[j].WithStatus(status)
				}
			}
			fetched[i] = rows
			return nil
		})
	}
	_ = g.Wait()

	// the cache must stay consistent even when the caller has gone away
	cacheCtx := context.WithoutCancel(ctx)

	s.mu.RLock()
	previous := s.grouped
	s.mu.RUnlock()

	grouped := make(map[models.FakturaStatus][]models.VejmanKassenRow, len(models.AllStatuses))
	failed := 0
	for i, status := range models.AllStatuses {
		if fetchErrs[i] != nil {
			failed++
			s.logr.Warn("keeping cached rows for status", zap.String("status", string(status)), zap.Error(fetchErrs[i]))
			cached, err := s.cache.ByStatus(cacheCtx, status)
			if err != nil {
				fetchErrs[i] = errors.Join(fetchErrs[i], fmt.Errorf("read cache %q: %w", status, err))
				cached = previous[status]
			}
			grouped[status] = cached
			continue
		}
		if err := s.cache.ReplaceStatus(cacheCtx, status, fetched[i]); err != nil {
			fetchErrs[i] = fmt.Errorf("cache %q: %w", status, err)
			failed++
		}
		grouped[status] = fetched[i]
	}

	now := s.now()
	if failed < len(models.AllStatuses) {
		if err := s.cache.SetLastRefresh(cacheCtx, now); err != nil {
			s.logr.Warn("failed to store last refresh time", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.grouped = grouped
	if failed < len(models.AllStatuses) {
		s.lastRefresh = now
	}
	s.currentRows = grouped[s.activeFilter]
	if s.currentRows == nil {
		s.currentRows = []models.VejmanKassenRow{}
	}
	s.mu.Unlock()

	s.publishCounts()

	if err := errors.Join(fetchErrs...); err != nil {
		return fmt.Errorf("refresh rows: %w", err)
	}
	return nil
}

// SetActiveFilter selects which status group is listed.
func (s *VejmanService) SetActiveFilter(status models.FakturaStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setActiveFilterLocked(status)
}

func (s *VejmanService) setActiveFilterLocked(status models.FakturaStatus) {
	s.activeFilter = status
	rows := s.grouped[status]
	if rows == nil {
		rows = []models.VejmanKassenRow{}
	}
	s.currentRows = rows
}

// Rows returns the current rows matching query. With a location the rows are
// annotated with their distance and sorted nearest first.
func (s *VejmanService) Rows(query string, current *geo.Location) []models.VejmanKassenRow {
	s.mu.RLock()
	rows := utils.FilterRows(s.currentRows, query)
	s.mu.RUnlock()

	if current != nil {
		return geo.AnnotateDistances(rows, *current)
	}
	return rows
}

// FindRow looks a row up across all status groups.
func (s *VejmanService) FindRow(id string) (models.VejmanKassenRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row, ok := s.findLocked(id); ok {
		return row, nil
	}
	return models.VejmanKassenRow{}, ErrRowNotFound
}

func (s *VejmanService) findLocked(id string) (models.VejmanKassenRow, bool) {
	for _, rows := range s.grouped {
		for _, r := range rows {
			if r.ID == id {
				return r, true
			}
		}
	}
	return models.VejmanKassenRow{}, false
}

// UpdateRow sends the fields that differ from the known row, plus the status
// transition when newStatus is set. On success the cache and status groups
// are updated and the active filter re-applied.
func (s *VejmanService) UpdateRow(ctx context.Context, updated models.VejmanKassenRow, newStatus *models.FakturaStatus) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.RLock()
	original, known := s.findLocked(updated.ID)
	s.mu.RUnlock()

	updates := make(map[string]any)
	if known {
		if !equalFloat32(updated.Kvadratmeter, original.Kvadratmeter) && updated.Kvadratmeter != nil {
			updates["kvadratmeter"] = *updated.Kvadratmeter
		}
		if !equalString(updated.Tilladelsestype, original.Tilladelsestype) && updated.Tilladelsestype != nil {
			updates["tilladelsestype"] = *updated.Tilladelsestype
		}
		if !equalDate(updated.Slutdato, original.Slutdato) && updated.Slutdato != nil {
			updates["slutdato"] = *updated.Slutdato
		}
	} else {
		if updated.Kvadratmeter != nil {
			updates["kvadratmeter"] = *updated.Kvadratmeter
		}
		if updated.Tilladelsestype != nil {
			updates["tilladelsestype"] = *updated.Tilladelsestype
		}
		if updated.Slutdato != nil {
			updates["slutdato"] = *updated.Slutdato
		}
	}
	if newStatus != nil {
		updates["fakturaStatus"] = string(*newStatus)
	}

	if len(updates) == 0 {
		s.logr.Warn("no changed fields to update", zap.String("id", updated.ID))
		return ErrNoChanges
	}

	oldStatus := updated.FakturaStatus
	if known && original.FakturaStatus != nil {
		oldStatus = original.FakturaStatus
	}
	sendStatus := updated.FakturaStatus
	if newStatus != nil {
		sendStatus = models.StringPtr(string(*newStatus))
	}

	var email string
	if s.emails != nil {
		email, _ = s.emails.Email()
	}

	if err := s.remote.UpdateRow(ctx, updated.ID, updates, oldStatus, sendStatus, email); err != nil {
		return fmt.Errorf("update row %s: %w", updated.ID, err)
	}

	newRow := updated
	newRow.DistanceFromCurrent = nil
	if newStatus != nil {
		newRow = newRow.WithStatus(*newStatus)
	}
	if err := s.cache.UpdateRow(ctx, newRow); err != nil {
		s.logr.Error("failed to update cached row", zap.String("id", newRow.ID), zap.Error(err))
	}

	target := newRow.Status()
	if newStatus == nil && known {
		target = original.GroupKey()
	}

	s.mu.Lock()
	for status, rows := range s.grouped {
		if status != target {
			s.grouped[status] = removeRow(rows, newRow.ID)
		}
	}
	s.grouped[target] = upsertRow(s.grouped[target], newRow)
	s.setActiveFilterLocked(s.activeFilter)
	s.mu.Unlock()

	s.publishCounts()
	return nil
}

// State returns a snapshot of the filter, loading flags and group sizes.
func (s *VejmanService) State() VejmanState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(s.grouped))
	for status, rows := range s.grouped {
		counts[string(status)] = len(rows)
	}
	return VejmanState{
		ActiveFilter:  s.activeFilter,
		LoadingStatus: s.loadingStatus,
		Refreshing:    s.refreshing,
		LastRefresh:   s.lastRefresh,
		Counts:        counts,
	}
}

func (s *VejmanService) ActiveFilter() models.FakturaStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeFilter
}

func (s *VejmanService) setLoading(msg string) {
	s.mu.Lock()
	s.loadingStatus = msg
	s.mu.Unlock()
}

func (s *VejmanService) publishCounts() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	counts := make(map[string]int, len(s.grouped))
	for status, rows := range s.grouped {
		counts[string(status)] = len(rows)
	}
	s.mu.RUnlock()
	s.metrics.SetCachedRows(counts)
}

// removeRow returns rows without id, leaving the input untouched.
func removeRow(rows []models.VejmanKassenRow, id string) []models.VejmanKassenRow {
	out := make([]models.VejmanKassenRow, 0, len(rows))
	for _, r := range rows {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

// upsertRow replaces the row with the same id in place, or appends it.
func upsertRow(group []models.VejmanKassenRow, row models.VejmanKassenRow) []models.VejmanKassenRow {
	out := make([]models.VejmanKassenRow, 0, len(group)+1)
	replaced := false
	for _, r := range group {
		if r.ID == row.ID {
			out = append(out, row)
			replaced = true
			continue
		}
		out = append(out, r)
	}
	if !replaced {
		out = append(out, row)
	}
	return out
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// equalDate compares backend dates by calendar day, so "2025-06-30" equals
// "Mon, 30 Jun 2025 00:00:00 GMT".
func equalDate(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, errA := utils.ParseBackendDate(*a)
	tb, errB := utils.ParseBackendDate(*b)
	if errA != nil || errB != nil {
		return *a == *b
	}
	return ta.Format(utils.BackendDateLayout) == tb.Format(utils.BackendDateLayout)
}

func equalFloat32(a, b *float32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
