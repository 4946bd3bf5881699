package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/mermaidboard/internal/auth"
	"github.com/hitoshi/mermaidboard/internal/model"
)

// --- エンドツーエンドテスト用のステートフルなインメモリ実装 ---

// memStore はテスト用の共有状態を保持する。各リポジトリはこれを参照する。
type memStore struct {
	mu            sync.Mutex
	now           time.Time
	users         map[int64]*model.User
	sessions      map[string]*model.Session
	refreshTokens map[string]*model.RefreshToken
	auditLogs     []*model.AuditLog
	diagrams      map[int64]*model.Diagram
	nextID        int64
}

func newMemStore() *memStore {
	return &memStore{
		now:           time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		users:         make(map[int64]*model.User),
		sessions:      make(map[string]*model.Session),
		refreshTokens: make(map[string]*model.RefreshToken),
		diagrams:      make(map[int64]*model.Diagram),
	}
}

// tick はDBのnow()に相当する単調増加の時刻を返す。呼び出し側でロックを取る。
func (s *memStore) tick() time.Time {
	s.now = s.now.Add(time.Second)
	return s.now
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) diagramCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.diagrams)
}

func (s *memStore) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, len(s.auditLogs))
	for i, l := range s.auditLogs {
		actions[i] = l.Action
	}
	return actions
}

// users

type memUserRepo struct{ s *memStore }

func (r memUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r memUserRepo) UpsertByGoogleID(ctx context.Context, claims model.IdentityClaims, loginAt time.Time) (*model.User, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.GoogleID == claims.Subject {
			u.Email = claims.Email
			u.DisplayName = claims.Name
			u.PhotoURL = claims.Picture
			u.LastLogin = &loginAt
			u.UpdatedAt = r.s.tick()
			cp := *u
			return &cp, false, nil
		}
	}
	now := r.s.tick()
	u := &model.User{
		ID:          r.s.id(),
		GoogleID:    claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastLogin:   &loginAt,
	}
	r.s.users[u.ID] = u
	cp := *u
	return &cp, true, nil
}

// sessions

type memSessionRepo struct{ s *memStore }

func (r memSessionRepo) Create(ctx context.Context, sess *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess.ID = r.s.id()
	sess.CreatedAt = r.s.tick()
	cp := *sess
	r.s.sessions[sess.TokenJTI] = &cp
	return nil
}

func (r memSessionRepo) FindByJTI(ctx context.Context, jti string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[jti]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (r memSessionRepo) RevokeByJTI(ctx context.Context, jti string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess, ok := r.s.sessions[jti]; ok {
		sess.IsRevoked = true
	}
	return nil
}

func (r memSessionRepo) RevokeByUserID(ctx context.Context, userID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && !sess.IsRevoked {
			sess.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (r memSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// refresh tokens

type memRefreshTokenRepo struct{ s *memStore }

func (r memRefreshTokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.ID = r.s.id()
	cp := *t
	r.s.refreshTokens[t.TokenHash] = &cp
	return nil
}

func (r memRefreshTokenRepo) FindByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.refreshTokens[hash]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r memRefreshTokenRepo) RevokeByHash(ctx context.Context, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.refreshTokens[hash]; ok {
		t.IsRevoked = true
	}
	return nil
}

func (r memRefreshTokenRepo) RevokeByUserID(ctx context.Context, userID int64) (int64, error) {
	return 0, nil
}

func (r memRefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// audit logs

type memAuditRepo struct{ s *memStore }

func (r memAuditRepo) Insert(ctx context.Context, entry *model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = r.s.id()
	cp := *entry
	r.s.auditLogs = append(r.s.auditLogs, &cp)
	return nil
}

// diagrams

type memDiagramRepo struct{ s *memStore }

func (r memDiagramRepo) ListActiveByUser(ctx context.Context, userID int64) ([]*model.Diagram, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := []*model.Diagram{}
	for _, d := range r.s.diagrams {
		if d.UserID == userID && !d.IsDeleted {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

func (r memDiagramRepo) FindActive(ctx context.Context, id, userID int64) (*model.Diagram, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.diagrams[id]
	if !ok || d.UserID != userID || d.IsDeleted {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r memDiagramRepo) Create(ctx context.Context, d *model.Diagram) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.tick()
	d.ID = r.s.id()
	d.CreatedAt = now
	d.UpdatedAt = now
	cp := *d
	r.s.diagrams[d.ID] = &cp
	return nil
}

func (r memDiagramRepo) Update(ctx context.Context, id, userID int64, patch model.DiagramPatch) (*model.Diagram, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.diagrams[id]
	if !ok || d.UserID != userID || d.IsDeleted {
		return nil, nil
	}
	if patch.Title.Set {
		d.Title = patch.Title.Value
	}
	if patch.Code.Set {
		d.Code = patch.Code.Value
	}
	if patch.Thumbnail.Set {
		d.Thumbnail = patch.Thumbnail.Value
	}
	d.UpdatedAt = r.s.tick()
	cp := *d
	return &cp, nil
}

func (r memDiagramRepo) SoftDelete(ctx context.Context, id, userID int64) (bool, error) {
	return r.setDeleted(id, userID, false, true), nil
}

func (r memDiagramRepo) Restore(ctx context.Context, id, userID int64) (bool, error) {
	return r.setDeleted(id, userID, true, false), nil
}

func (r memDiagramRepo) setDeleted(id, userID int64, from, to bool) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.diagrams[id]
	if !ok || d.UserID != userID || d.IsDeleted != from {
		return false
	}
	d.IsDeleted = to
	d.UpdatedAt = r.s.tick()
	return true
}

// stubIdentityProvider は固定のIDトークン・認可コードだけを受け付けるIdP。
type stubIdentityProvider struct {
	tokens map[string]model.IdentityClaims // IDトークン → クレーム
	codes  map[string]string               // 認可コード → IDトークン
}

func (p *stubIdentityProvider) AuthorizationURL(state string) string {
	return "https://accounts.example.test/o/oauth2/v2/auth?state=" + state
}

func (p *stubIdentityProvider) ExchangeCode(ctx context.Context, code string) (*auth.TokenBundle, error) {
	idToken, ok := p.codes[code]
	if !ok {
		return nil, errInvalidGrant
	}
	return &auth.TokenBundle{AccessToken: "google-access-" + code, IDToken: idToken}, nil
}

func (p *stubIdentityProvider) VerifyIdentityToken(ctx context.Context, raw string) *model.IdentityClaims {
	claims, ok := p.tokens[raw]
	if !ok {
		return nil
	}
	return &claims
}

func (p *stubIdentityProvider) FetchProfile(ctx context.Context, accessToken string) (*model.IdentityClaims, error) {
	for code, idToken := range p.codes {
		if accessToken == "google-access-"+code {
			claims := p.tokens[idToken]
			return &claims, nil
		}
	}
	return nil, errInvalidGrant
}

type stubError string

func (e stubError) Error() string { return string(e) }

const errInvalidGrant = stubError(`token exchange failed with status 400: {"error":"invalid_grant"}`)
