package userkeys

import (
	"context"
	"errors"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/docstore"
	"github.com/eternisai/content-planner-proxy/internal/keypool"
)

// Service stores per-user Gemini keys and serves them to the key pool as a fallback.
type Service struct {
	store docstore.Store
	now   func() time.Time
}

var _ keypool.UserKeyLookup = (*Service)(nil)

func NewService(store docstore.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Save stores apiKey for the user.
func (s *Service) Save(ctx context.Context, userID, apiKey string) error {
	return s.store.SaveUserAPIKey(ctx, userID, apiKey, s.now())
}

// UserKey implements keypool.UserKeyLookup. A missing document is not an error.
func (s *Service) UserKey(ctx context.Context, userID string) (string, error) {
	key, err := s.store.GetUserAPIKey(ctx, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	return key, err
}
