package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/teamsync/backend/internal/auth"
	"github.com/teamsync/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	errMissingDatabase = errors.New("database handle is required")
)

const (
	opServiceNew      = "users.service.new"
	opResolveIdentity = "users.resolve_identity"
	opProfiles        = "users.profiles"
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages canonical user identifiers and the profile data shown next to them.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// It creates a new identity mapping when the provider+subject pair has not been seen before
// and refreshes the stored profile fields otherwise.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if canonicalIdentifier, ok := cachedIdentifier.(string); ok {
			return canonicalIdentifier, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).First(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			AvatarURL:   normalize(claims.UserAvatarURL),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&identity).Error; err != nil {
			s.logError(opResolveIdentity, "identity_insert_failed", err, zap.String("subject", subject))
			return "", serviceerr.New(opResolveIdentity, "identity_insert_failed", err)
		}
	case err != nil:
		s.logError(opResolveIdentity, "identity_select_failed", err, zap.String("subject", subject))
		return "", serviceerr.New(opResolveIdentity, "identity_select_failed", err)
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != identity.AvatarURL {
			updates["user_avatar_url"] = avatar
		}
		if err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("subject", subject), zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// Profile returns the profile for userID. Unknown users get a profile that carries only the id.
func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	profiles, err := s.Profiles(ctx, []string{userID})
	if err != nil {
		return Profile{}, err
	}
	return profiles[normalize(userID)], nil
}

// Profiles returns a profile per requested id, using the most recently seen identity when a user
// has logged in through more than one provider.
func (s *Service) Profiles(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	wanted := make([]string, 0, len(userIDs))
	profiles := make(map[string]Profile, len(userIDs))
	for _, userID := range userIDs {
		userID = normalize(userID)
		if userID == "" {
			continue
		}
		if _, seen := profiles[userID]; seen {
			continue
		}
		profiles[userID] = Profile{UserID: userID}
		wanted = append(wanted, userID)
	}
	if len(wanted) == 0 {
		return profiles, nil
	}

	var identities []Identity
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", wanted).
		Order("last_seen_at ASC").
		Find(&identities).Error; err != nil {
		s.logError(opProfiles, "query_failed", err, zap.Int("user_count", len(wanted)))
		return nil, serviceerr.New(opProfiles, "query_failed", err)
	}
	for _, identity := range identities {
		profiles[identity.UserID] = identity.profile()
	}
	return profiles, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
