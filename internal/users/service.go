// Package users answers existence and identity questions about the users
// referenced by notes and comments.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	cacheCleanupFactor  = 2
	describeCachePrefix = "describe:"
	existsCachePrefix   = "exists:"
)

// IdentityLookup resolves a user id against an external identity provider.
type IdentityLookup interface {
	LookupIdentity(ctx context.Context, userID string) (Identity, error)
}

// Identity is the provider-side view of a user, used only for diagnostics.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}

// Label renders the identity for log lines.
func (identity Identity) Label() string {
	return User{ID: identity.UserID, Email: identity.Email, Name: identity.DisplayName}.Label()
}

// ServiceConfig describes the dependencies required for user lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Lookup   IdentityLookup
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Service checks user existence in the relational store and enriches missing
// users with provider identities. Positive answers are cached; absent users
// are re-checked every time since the identity sync may create them.
type Service struct {
	db     *gorm.DB
	lookup IdentityLookup
	cache  *cache.Cache
	logger *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		lookup: cfg.Lookup,
		cache:  cache.New(ttl, ttl*cacheCleanupFactor),
		logger: logger,
	}, nil
}

// Exists reports whether the relational store holds a user with the given id.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	userID = normalize(userID)
	if userID == "" {
		return false, nil
	}
	if _, ok := s.cache.Get(existsCachePrefix + userID); ok {
		return true, nil
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: userID}).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("users: existence check for %s: %w", userID, err)
	}
	if count > 0 {
		s.cache.SetDefault(existsCachePrefix+userID, struct{}{})
		return true, nil
	}
	return false, nil
}

// Find returns the user row, or nil when absent.
func (s *Service) Find(ctx context.Context, userID string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: normalize(userID)}).
		Take(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Describe returns a best-effort readable identity for a user id. It never
// fails: lookup problems degrade to the raw id.
func (s *Service) Describe(ctx context.Context, userID string) string {
	userID = normalize(userID)
	if userID == "" {
		return ""
	}
	if cached, ok := s.cache.Get(describeCachePrefix + userID); ok {
		if label, ok := cached.(string); ok {
			return label
		}
	}

	label := userID
	if user, err := s.Find(ctx, userID); err == nil && user != nil {
		label = user.Label()
	} else if s.lookup != nil {
		identity, lookupErr := s.lookup.LookupIdentity(ctx, userID)
		if lookupErr != nil {
			s.logger.Debug("identity lookup failed", zap.String("user_id", userID), zap.Error(lookupErr))
		} else {
			label = identity.Label()
		}
	}

	s.cache.SetDefault(describeCachePrefix+userID, label)
	return label
}
