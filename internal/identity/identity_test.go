package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/gatekeeper/internal/domain"
	"github.com/ashureev/gatekeeper/internal/store"
)

type fakeRepo struct {
	store.Repository

	mu        sync.Mutex
	users     map[string]*domain.User
	lastSeens int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]*domain.User)}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.UserID] = &cp
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeens++
	if u, ok := f.users[userID]; ok {
		u.LastSeenAt = lastSeen
	}
	return nil
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-User", UserIDFromContext(r.Context()))
		w.Header().Set("X-Username", UsernameFromContext(r.Context()))
		w.Header().Set("X-Session", SessionIDFromContext(r.Context()))
	})
}

func TestMiddlewareIssuesCookieAndCreatesUser(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	h := Middleware(repo, true, nil)(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(SessionHeaderName, "tab-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	userID := rec.Header().Get("X-User")
	if !isValidAnonID(userID) {
		t.Fatalf("user id = %q, want anon id", userID)
	}
	if got := rec.Header().Get("X-Session"); got != "tab-42" {
		t.Errorf("session = %q, want tab-42", got)
	}
	if _, ok := repo.users[userID]; !ok {
		t.Errorf("user %s was not persisted", userID)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != userID {
		t.Fatalf("cookies = %+v", cookies)
	}
	if cookies[0].Secure {
		t.Error("cookie must not be Secure in development")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	id := "anon_0123456789abcdef0123456789abcdef"
	repo.users[id] = &domain.User{UserID: id, Username: deriveUsername(id), LastSeenAt: time.Now().Add(-time.Hour)}
	h := Middleware(repo, false, nil)(echoIdentity())

	req := httptest.NewRequest(http.MethodGet, "/api/game?session_id=bad%20id!", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-User"); got != id {
		t.Errorf("user = %q, want %q", got, id)
	}
	if got := rec.Header().Get("X-Username"); got != "anon-89abcdef" {
		t.Errorf("username = %q", got)
	}
	if got := rec.Header().Get("X-Session"); got != DefaultSessionIDValue {
		t.Errorf("session = %q, want default for invalid id", got)
	}
	if repo.lastSeens != 1 {
		t.Errorf("last seen updates = %d, want 1", repo.lastSeens)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Errorf("expected refreshed secure cookie, got %+v", c)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	t.Parallel()

	h := Middleware(newFakeRepo(), true, nil)(echoIdentity())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-User"); got == "admin" || !isValidAnonID(got) {
		t.Errorf("user = %q, want freshly minted id", got)
	}
}

func TestWithIdentity(t *testing.T) {
	t.Parallel()

	ctx := WithIdentity(context.Background(), "anon_local", "")
	if got := UserIDFromContext(ctx); got != "anon_local" {
		t.Errorf("user = %q", got)
	}
	if got := SessionIDFromContext(ctx); got != DefaultSessionIDValue {
		t.Errorf("session = %q", got)
	}
	if got := SessionIDFromContext(context.Background()); got != DefaultSessionIDValue {
		t.Errorf("empty context session = %q", got)
	}
}
