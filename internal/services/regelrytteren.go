package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"tilsynsapp/internal/models"

	"go.uber.org/zap"
)

const (
	MaxVehicles = 10

	MsgNoVehicles = "Du skal vælge mindst én cykel eller bil"
	MsgNoTypes    = "Vælg mindst én type: Tilladelser eller Henstillinger"
)

// QueueRemote enqueues route-optimisation jobs.
type QueueRemote interface {
	EnqueueRegelRytteren(ctx context.Context, s models.RegelRytterenSettings) models.RegelRytterenResult
}

// RegelRytterenService holds the route-optimisation form and enforces the
// resubmit lockout after a successful job.
type RegelRytterenService struct {
	remote  QueueRemote
	lockout time.Duration
	logr    *zap.Logger
	now     func() time.Time

	mu            sync.Mutex
	settings      models.RegelRytterenSettings
	statusMessage string
	lockedUntil   time.Time
}

func NewRegelRytterenService(remote QueueRemote, lockout time.Duration, logr *zap.Logger) *RegelRytterenService {
	if lockout <= 0 {
		lockout = 300 * time.Second
	}
	return &RegelRytterenService{
		remote:   remote,
		lockout:  lockout,
		logr:     logr,
		now:      time.Now,
		settings: models.DefaultRegelRytterenSettings(),
	}
}

func (s *RegelRytterenService) Settings() models.RegelRytterenSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings stores the form values, clamping vehicle counts to 0..10.
func (s *RegelRytterenService) SetSettings(in models.RegelRytterenSettings) models.RegelRytterenSettings {
	in.Bikes = clampVehicles(in.Bikes)
	in.Cars = clampVehicles(in.Cars)

	s.mu.Lock()
	s.settings = in
	s.mu.Unlock()
	return in
}

func (s *RegelRytterenService) StatusMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusMessage
}

// LockoutRemaining is zero when a new job may be sent.
func (s *RegelRytterenService) LockoutRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked()
}

func (s *RegelRytterenService) remainingLocked() time.Duration {
	d := s.lockedUntil.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// Submit validates the current settings and enqueues a job.
func (s *RegelRytterenService) Submit(ctx context.Context) models.RegelRytterenResult {
	s.mu.Lock()
	settings := s.settings
	remaining := s.remainingLocked()
	s.mu.Unlock()

	if settings.Bikes+settings.Cars == 0 {
		return models.RegelRytterenResult{Message: MsgNoVehicles}
	}
	if !settings.Vejman && !settings.Henstillinger {
		return models.RegelRytterenResult{Message: MsgNoTypes}
	}
	if remaining > 0 {
		secs := int(math.Ceil(remaining.Seconds()))
		return models.RegelRytterenResult{Message: fmt.Sprintf("Du kan sende igen om %d sek.", secs)}
	}

	res := s.remote.EnqueueRegelRytteren(ctx, settings)
	s.logr.Info("regelrytteren submitted",
		zap.Int("bikes", settings.Bikes),
		zap.Int("cars", settings.Cars),
		zap.Bool("success", res.Success),
	)

	s.mu.Lock()
	s.statusMessage = res.Message
	if res.Success {
		s.lockedUntil = s.now().Add(s.lockout)
	}
	s.mu.Unlock()
	return res
}

func clampVehicles(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxVehicles {
		return MaxVehicles
	}
	return n
}
