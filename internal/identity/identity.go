package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gofer/internal/domain"
	"gofer/internal/repo"
)

// Resolver maps chat-platform user identifiers to internal user rows,
// creating one on first sight. Resolution is idempotent: the store's
// uniqueness constraint on external_id arbitrates concurrent first-sight
// races, and losing a race falls back to the winner's row.
type Resolver struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Resolver {
	return Resolver{Repo: r, Now: time.Now}
}

func (rs Resolver) now() time.Time {
	if rs.Now != nil {
		return rs.Now()
	}
	return time.Now()
}

// Resolve returns the internal user for an external identity, creating it
// on first occurrence.
func (rs Resolver) Resolve(ctx context.Context, externalID string) (domain.User, error) {
	if externalID == "" {
		return domain.User{}, errors.New("external id is required")
	}
	u := domain.User{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		CreatedAt:  rs.now().UTC().Format(time.RFC3339),
	}
	if err := rs.Repo.EnsureUser(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("%w: ensure user: %v", repo.ErrUnavailable, err)
	}
	got, err := rs.Repo.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, repo.ErrNotFound) {
		// The insert was a conflict no-op and the winning row was not yet
		// visible; one retry reconciles the race.
		got, err = rs.Repo.GetUserByExternalID(ctx, externalID)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: lookup user: %v", repo.ErrUnavailable, err)
	}
	return got, nil
}
