package services

import (
	"context"
	"strings"

	"tilsynsapp/internal/models"

	"go.uber.org/zap"
)

const DefaultUpdateMessage = "Opdatering påkrævet"

type VersionRemote interface {
	VersionInfo(ctx context.Context) (*models.VersionInfo, error)
}

// VersionCheck is the outcome of comparing the build with the backend.
type VersionCheck struct {
	VersionCode    int    `json:"version_code"`
	MinVersionCode int    `json:"min_version_code"`
	UpdateRequired bool   `json:"update_required"`
	Message        string `json:"message,omitempty"`
}

type VersionService struct {
	remote      VersionRemote
	versionCode int
	logr        *zap.Logger
}

func NewVersionService(remote VersionRemote, versionCode int, logr *zap.Logger) *VersionService {
	return &VersionService{remote: remote, versionCode: versionCode, logr: logr}
}

// Check never fails: when the backend cannot be reached the build is assumed
// to be current.
func (s *VersionService) Check(ctx context.Context) VersionCheck {
	res := VersionCheck{VersionCode: s.versionCode}

	info, err := s.remote.VersionInfo(ctx)
	if err != nil {
		s.logr.Warn("version check skipped", zap.Error(err))
		return res
	}

	res.MinVersionCode = info.MinVersionCode
	if info.MinVersionCode > s.versionCode {
		res.UpdateRequired = true
		res.Message = strings.TrimSpace(info.Message)
		if res.Message == "" {
			res.Message = DefaultUpdateMessage
		}
	}
	return res
}
