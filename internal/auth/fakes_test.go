package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/mermaidboard/internal/model"
)

// memSessionRepo はインメモリのSessionRepository。
type memSessionRepo struct {
	mu     sync.Mutex
	rows   map[string]*model.Session
	nextID int64
	err    error
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{rows: make(map[string]*model.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.nextID++
	s.ID = r.nextID
	cp := *s
	r.rows[s.TokenJTI] = &cp
	return nil
}

func (r *memSessionRepo) FindByJTI(ctx context.Context, jti string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	s, ok := r.rows[jti]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) RevokeByJTI(ctx context.Context, jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[jti]; ok {
		s.IsRevoked = true
	}
	return nil
}

func (r *memSessionRepo) RevokeByUserID(ctx context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.rows {
		if s.UserID == userID && !s.IsRevoked {
			s.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for jti, s := range r.rows {
		if !s.ExpiresAt.After(before) {
			delete(r.rows, jti)
			n++
		}
	}
	return n, nil
}

// memRefreshTokenRepo はインメモリのRefreshTokenRepository。
type memRefreshTokenRepo struct {
	mu   sync.Mutex
	rows map[string]*model.RefreshToken
}

func newMemRefreshTokenRepo() *memRefreshTokenRepo {
	return &memRefreshTokenRepo{rows: make(map[string]*model.RefreshToken)}
}

func (r *memRefreshTokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.rows[t.TokenHash] = &cp
	return nil
}

func (r *memRefreshTokenRepo) FindByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[hash]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memRefreshTokenRepo) RevokeByHash(ctx context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.rows[hash]; ok {
		t.IsRevoked = true
	}
	return nil
}

func (r *memRefreshTokenRepo) RevokeByUserID(ctx context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.rows {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (r *memRefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, t := range r.rows {
		if !t.ExpiresAt.After(before) {
			delete(r.rows, h)
			n++
		}
	}
	return n, nil
}

// fakeClock はテストで進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
