package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidUserID indicates a lookup with an empty user identifier.
var ErrInvalidUserID = errors.New("users: invalid user id")

// ServiceConfig describes the dependencies required for profile lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves author display names for propagation. Lookups are cached
// per process; propagation re-maps display fields on every source update, so
// a stale cache entry corrects itself on the author's next edit.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// DisplayName returns the display name recorded for the user id, or the empty
// string when no profile row exists. An unknown author is not an error; the
// canonical row simply carries no name.
func (s *Service) DisplayName(ctx context.Context, userID string) (string, error) {
	trimmed := normalize(userID)
	if trimmed == "" {
		return "", ErrInvalidUserID
	}

	if cached, ok := s.cache.Load(trimmed); ok {
		if name, ok := cached.(string); ok {
			return name, nil
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", trimmed).
		First(&profile).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	name := normalize(profile.DisplayName)
	s.cache.Store(trimmed, name)
	return name, nil
}

// Upsert records or refreshes a profile row and invalidates the cache entry.
func (s *Service) Upsert(ctx context.Context, profile Profile) error {
	if normalize(profile.UserID) == "" {
		return ErrInvalidUserID
	}
	profile.UserID = normalize(profile.UserID)

	var existing Profile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", profile.UserID).
		First(&existing).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		updates := map[string]interface{}{}
		if name := normalize(profile.DisplayName); name != "" && name != existing.DisplayName {
			updates["display_name"] = name
		}
		if email := normalize(profile.Email); email != "" && email != existing.Email {
			updates["email"] = email
		}
		if avatar := normalize(profile.AvatarURL); avatar != "" && avatar != existing.AvatarURL {
			updates["avatar_url"] = avatar
		}
		if len(updates) > 0 {
			if err := s.db.WithContext(ctx).Model(&Profile{}).
				Where("user_id = ?", profile.UserID).
				Updates(updates).
				Error; err != nil {
				return err
			}
		}
	}

	s.cache.Delete(profile.UserID)
	return nil
}
