package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service is the owner-scoped read side used by the HTTP API. Every
// operation is bound to the caller's user id; target_role is never consulted.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, f Filter, limit, offset int) ([]*Notification, int, error) {
	if f.Type != nil && !f.Type.Valid() {
		return nil, 0, fmt.Errorf("%w: type %q", ErrBadFilter, *f.Type)
	}
	if f.TargetRole != nil && !f.TargetRole.Valid() {
		return nil, 0, fmt.Errorf("%w: target_role %q", ErrBadFilter, *f.TargetRole)
	}
	return s.store.ListByUser(ctx, userID, f, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.CountUnread(ctx, userID)
}

func (s *Service) owned(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, ErrForbidden
	}
	return n, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	n, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if n.IsRead {
		return n, nil
	}
	if err := s.store.MarkRead(ctx, id); err != nil {
		return nil, err
	}
	n.IsRead = true
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}
