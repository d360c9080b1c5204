package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-counseling-api/internal/models"
	appErrors "github.com/noah-isme/campus-counseling-api/pkg/errors"
)

type availabilityStore interface {
	ListByCounselorDay(ctx context.Context, counselorID, dayOfWeek string) ([]models.CounselorAvailability, error)
	ListByCounselor(ctx context.Context, counselorID string) ([]models.CounselorAvailability, error)
}

// AvailabilityService answers whether a requested slot falls inside a
// counselor's published weekly windows. Lookups always hit storage; stale
// availability must never admit a booking.
type AvailabilityService struct {
	repo   availabilityStore
	logger *zap.Logger
}

// NewAvailabilityService constructs the service.
func NewAvailabilityService(repo availabilityStore, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{repo: repo, logger: logger}
}

// ListForCounselor returns all published windows for a counselor.
func (s *AvailabilityService) ListForCounselor(ctx context.Context, counselorID string) ([]models.CounselorAvailability, error) {
	windows, err := s.repo.ListByCounselor(ctx, counselorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to load availability")
	}
	return windows, nil
}

// IsWithinAvailability reports whether the requested date and time fall
// inside one of the counselor's windows for that weekday. A counselor with no
// windows on the day, including weekends, admits nothing. Storage failures
// propagate instead of defaulting open.
func (s *AvailabilityService) IsWithinAvailability(ctx context.Context, counselorID, date, timeSpec string) (bool, error) {
	day, err := weekdayOf(date)
	if err != nil {
		return false, appErrors.Clone(appErrors.ErrValidation, "preferredDate must be formatted as YYYY-MM-DD")
	}

	reqStart, reqEnd, err := parseTimeSpec(timeSpec)
	if err != nil {
		return false, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	windows, err := s.repo.ListByCounselorDay(ctx, counselorID, day)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to load availability")
	}
	if len(windows) == 0 {
		return false, nil
	}

	for _, w := range windows {
		winStart, err := parseClock(w.StartTime)
		if err != nil {
			s.logger.Warn("skipping malformed availability window",
				zap.String("availability_id", w.ID), zap.String("start_time", w.StartTime))
			continue
		}
		winEnd, err := parseClock(w.EndTime)
		if err != nil {
			s.logger.Warn("skipping malformed availability window",
				zap.String("availability_id", w.ID), zap.String("end_time", w.EndTime))
			continue
		}
		// Start is inclusive, end is exclusive for point requests. A range
		// request may end exactly at the window boundary.
		if reqStart < winStart || reqEnd > winEnd {
			continue
		}
		if reqStart == reqEnd && reqStart >= winEnd {
			continue
		}
		return true, nil
	}
	return false, nil
}

// weekdayOf maps a YYYY-MM-DD date onto the stored lowercase weekday names.
func weekdayOf(date string) (string, error) {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Weekday().String()), nil
}

// parseTimeSpec accepts "HH:MM" or "HH:MM-HH:MM" and returns start and end
// minutes since midnight. A point request has end equal to start.
func parseTimeSpec(spec string) (int, int, error) {
	spec = strings.TrimSpace(spec)
	if start, end, found := strings.Cut(spec, "-"); found {
		startMin, err := parseClock(start)
		if err != nil {
			return 0, 0, fmt.Errorf("preferredTime start must be HH:MM")
		}
		endMin, err := parseClock(end)
		if err != nil {
			return 0, 0, fmt.Errorf("preferredTime end must be HH:MM")
		}
		if endMin <= startMin {
			return 0, 0, fmt.Errorf("preferredTime end must be after start")
		}
		return startMin, endMin, nil
	}
	startMin, err := parseClock(spec)
	if err != nil {
		return 0, 0, fmt.Errorf("preferredTime must be HH:MM or HH:MM-HH:MM")
	}
	return startMin, startMin, nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(raw string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
