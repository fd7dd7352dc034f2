package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/chanhub/internal/media"
	"github.com/hitoshi/chanhub/internal/metrics"
	"github.com/hitoshi/chanhub/internal/model"
	"github.com/hitoshi/chanhub/internal/repository"
	"github.com/hitoshi/chanhub/internal/security"
	"golang.org/x/crypto/bcrypt"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn              func(ctx context.Context, id string) (*model.User, error)
	findByUsernameOrEmailFn func(ctx context.Context, username, email string) (*model.User, error)
	createFn                func(ctx context.Context, user *model.User) error
	updateRefreshTokenFn    func(ctx context.Context, id string, token *string, expiresAt *time.Time) error
	rotateRefreshTokenFn    func(ctx context.Context, id, presented, next string, expiresAt time.Time) (bool, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	if m.findByUsernameOrEmailFn != nil {
		return m.findByUsernameOrEmailFn(ctx, username, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) UpdateRefreshToken(ctx context.Context, id string, token *string, expiresAt *time.Time) error {
	if m.updateRefreshTokenFn != nil {
		return m.updateRefreshTokenFn(ctx, id, token, expiresAt)
	}
	return nil
}

func (m *mockUserRepo) RotateRefreshToken(ctx context.Context, id, presented, next string, expiresAt time.Time) (bool, error) {
	if m.rotateRefreshTokenFn != nil {
		return m.rotateRefreshTokenFn(ctx, id, presented, next, expiresAt)
	}
	return false, nil
}

func (m *mockUserRepo) UpdatePassword(context.Context, string, string) error { return nil }

func (m *mockUserRepo) UpdateAccount(context.Context, string, string, string, string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) UpdateAvatar(context.Context, string, string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) UpdateCoverImage(context.Context, string, string) (*model.User, error) {
	return nil, nil
}

type mockUploader struct {
	uploadFn func(ctx context.Context, localPath string) (*media.UploadResult, error)
	calls    []string
}

func (m *mockUploader) Upload(ctx context.Context, localPath string) (*media.UploadResult, error) {
	m.calls = append(m.calls, localPath)
	if m.uploadFn != nil {
		return m.uploadFn(ctx, localPath)
	}
	if localPath == "" {
		return nil, nil
	}
	return &media.UploadResult{URL: "https://cdn.example.com/" + localPath}, nil
}

type recordingRecorder struct {
	metrics.Nop
	logins    []bool
	refreshes []string
}

func (r *recordingRecorder) RecordLogin(success bool)          { r.logins = append(r.logins, success) }
func (r *recordingRecorder) RecordTokenRefresh(outcome string) { r.refreshes = append(r.refreshes, outcome) }

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ media.Uploader = (*mockUploader)(nil)
var _ metrics.AuthRecorder = (*recordingRecorder)(nil)

// userStore はUserRepositoryの振る舞いを状態付きで再現するテスト用ストア。
// RotateRefreshTokenは保存値との比較と置換を排他的に行う。
type userStore struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newUserStore(users ...*model.User) *userStore {
	s := &userStore{users: map[string]*model.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *userStore) repo() *mockUserRepo {
	return &mockUserRepo{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if u, ok := s.users[id]; ok {
				cp := *u
				return &cp, nil
			}
			return nil, nil
		},
		findByUsernameOrEmailFn: func(_ context.Context, username, email string) (*model.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, u := range s.users {
				if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
					cp := *u
					return &cp, nil
				}
			}
			return nil, nil
		},
		updateRefreshTokenFn: func(_ context.Context, id string, token *string, expiresAt *time.Time) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			u := s.users[id]
			u.RefreshToken = token
			u.RefreshTokenExpiresAt = expiresAt
			return nil
		},
		rotateRefreshTokenFn: func(_ context.Context, id, presented, next string, expiresAt time.Time) (bool, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			u := s.users[id]
			if u.RefreshToken == nil || *u.RefreshToken != presented {
				return false, nil
			}
			u.RefreshToken = &next
			u.RefreshTokenExpiresAt = &expiresAt
			return true, nil
		},
	}
}

func (s *userStore) storedToken(id string) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].RefreshToken
}

// --- ヘルパー ---

func newTestService(repo repository.UserRepository, up media.Uploader, rec metrics.AuthRecorder) *Service {
	return NewService(repo, newTestTokenService(), NewBcryptHasher(bcrypt.MinCost), up, security.NewProfileSanitizer(), rec)
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := NewBcryptHasher(bcrypt.MinCost).Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func existingUser(t *testing.T) *model.User {
	return &model.User{
		ID:           "user-ana",
		Username:     "ana",
		Email:        "a@x.com",
		Fullname:     "Ana",
		Avatar:       "https://cdn.example.com/a.png",
		PasswordHash: hashed(t, "pw"),
	}
}

func wantKind(t *testing.T, err error, kind model.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := model.KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (err: %v)", got, kind, err)
	}
}

// --- Register ---

func TestRegister_Success_ReturnsSanitizedUser(t *testing.T) {
	var created *model.User
	repo := &mockUserRepo{
		createFn: func(_ context.Context, user *model.User) error {
			user.ID = "user-1"
			created = user
			return nil
		},
	}
	up := &mockUploader{}
	svc := newTestService(repo, up, nil)

	got, err := svc.Register(context.Background(), RegisterInput{
		Fullname:   "  Ana <b>L</b> ",
		Email:      " A@X.com",
		Username:   "Ana",
		Password:   "pw",
		AvatarPath: "avatar.png",
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if got.PasswordHash != "" || got.RefreshToken != nil {
		t.Error("returned user must be sanitized")
	}
	if got.Username != "ana" || got.Email != "a@x.com" || got.Fullname != "Ana L" {
		t.Errorf("unexpected normalized fields: %+v", got)
	}
	if got.Avatar != "https://cdn.example.com/avatar.png" {
		t.Errorf("Avatar = %q", got.Avatar)
	}
	if got.CoverImage != "" {
		t.Errorf("CoverImage = %q, want empty", got.CoverImage)
	}
	if created.PasswordHash == "" || created.PasswordHash == "pw" {
		t.Error("password must be stored hashed")
	}
	if bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("pw")) != nil {
		t.Error("stored hash does not match password")
	}
	if len(up.calls) != 1 {
		t.Errorf("upload calls = %v, want only avatar", up.calls)
	}
}

func TestRegister_WithCoverImage(t *testing.T) {
	svc := newTestService(&mockUserRepo{}, &mockUploader{}, nil)

	got, err := svc.Register(context.Background(), RegisterInput{
		Fullname: "Ana", Email: "a@x.com", Username: "ana", Password: "pw",
		AvatarPath: "a.png", CoverImagePath: "c.png",
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if got.CoverImage != "https://cdn.example.com/c.png" {
		t.Errorf("CoverImage = %q", got.CoverImage)
	}
}

func TestRegister_CoverUploadFailure_StillRegisters(t *testing.T) {
	up := &mockUploader{
		uploadFn: func(_ context.Context, p string) (*media.UploadResult, error) {
			if p == "c.png" {
				return nil, errors.New("storage down")
			}
			return &media.UploadResult{URL: "https://cdn/" + p}, nil
		},
	}
	svc := newTestService(&mockUserRepo{}, up, nil)

	got, err := svc.Register(context.Background(), RegisterInput{
		Fullname: "Ana", Email: "a@x.com", Username: "ana", Password: "pw",
		AvatarPath: "a.png", CoverImagePath: "c.png",
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if got.CoverImage != "" {
		t.Errorf("CoverImage = %q, want empty", got.CoverImage)
	}
}

func TestRegister_MissingFields_ValidationError(t *testing.T) {
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"fullname", RegisterInput{Email: "a@x.com", Username: "ana", Password: "pw", AvatarPath: "a.png"}},
		{"email whitespace", RegisterInput{Fullname: "Ana", Email: "  ", Username: "ana", Password: "pw", AvatarPath: "a.png"}},
		{"username", RegisterInput{Fullname: "Ana", Email: "a@x.com", Password: "pw", AvatarPath: "a.png"}},
		{"password", RegisterInput{Fullname: "Ana", Email: "a@x.com", Username: "ana", Password: " ", AvatarPath: "a.png"}},
		{"fullname only markup", RegisterInput{Fullname: "<script>x</script>", Email: "a@x.com", Username: "ana", Password: "pw", AvatarPath: "a.png"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockUserRepo{
				createFn: func(context.Context, *model.User) error {
					t.Fatal("Create must not be called")
					return nil
				},
			}
			svc := newTestService(repo, &mockUploader{}, nil)

			_, err := svc.Register(context.Background(), tt.in)
			wantKind(t, err, model.KindValidation)
		})
	}
}

func TestRegister_PasswordTooLong_ValidationErrorWithoutUpload(t *testing.T) {
	up := &mockUploader{}
	repo := &mockUserRepo{
		createFn: func(context.Context, *model.User) error {
			t.Fatal("Create must not be called")
			return nil
		},
	}
	svc := newTestService(repo, up, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Fullname:   "Ana",
		Email:      "a@x.com",
		Username:   "ana",
		Password:   strings.Repeat("p", MaxPasswordBytes+8),
		AvatarPath: "a.png",
	})
	wantKind(t, err, model.KindValidation)
	if !strings.Contains(err.Error(), "at most 72 bytes") {
		t.Errorf("error = %v", err)
	}
	if len(up.calls) != 0 {
		t.Error("no upload should happen for a rejected password")
	}
}

func TestRegister_DuplicateUsername_ConflictWithoutWrite(t *testing.T) {
	up := &mockUploader{}
	repo := &mockUserRepo{
		findByUsernameOrEmailFn: func(_ context.Context, username, _ string) (*model.User, error) {
			if username == "ana" {
				return &model.User{ID: "user-ana", Username: "ana"}, nil
			}
			return nil, nil
		},
		createFn: func(context.Context, *model.User) error {
			t.Fatal("Create must not be called")
			return nil
		},
	}
	svc := newTestService(repo, up, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Fullname: "Other", Email: "other@x.com", Username: "ANA", Password: "pw", AvatarPath: "a.png",
	})
	wantKind(t, err, model.KindConflict)
	if len(up.calls) != 0 {
		t.Error("no upload should happen on conflict")
	}
}

func TestRegister_InsertRace_Conflict(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(context.Context, *model.User) error { return repository.ErrDuplicate },
	}
	svc := newTestService(repo, &mockUploader{}, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Fullname: "Ana", Email: "a@x.com", Username: "ana", Password: "pw", AvatarPath: "a.png",
	})
	wantKind(t, err, model.KindConflict)
}

func TestRegister_MissingAvatar_ValidationError(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(context.Context, *model.User) error {
			t.Fatal("Create must not be called")
			return nil
		},
	}
	svc := newTestService(repo, &mockUploader{}, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Fullname: "Ana", Email: "a@x.com", Username: "ana", Password: "pw",
	})
	wantKind(t, err, model.KindValidation)
}

func TestRegister_AvatarUploadYieldsNoURL_ValidationError(t *testing.T) {
	up := &mockUploader{
		uploadFn: func(context.Context, string) (*media.UploadResult, error) { return nil, nil },
	}
	svc := newTestService(&mockUserRepo{}, up, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Fullname: "Ana", Email: "a@x.com", Username: "ana", Password: "pw", AvatarPath: "a.png",
	})
	wantKind(t, err, model.KindValidation)
}

func TestRegister_LookupFailure_InternalError(t *testing.T) {
	repo := &mockUserRepo{
		findByUsernameOrEmailFn: func(context.Context, string, string) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}
	svc := newTestService(repo, &mockUploader{}, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Fullname: "Ana", Email: "a@x.com", Username: "ana", Password: "pw", AvatarPath: "a.png",
	})
	wantKind(t, err, model.KindInternal)
}

// --- Login ---

func TestLogin_Success_StoresRefreshTokenAndReturnsTokens(t *testing.T) {
	store := newUserStore(existingUser(t))
	rec := &recordingRecorder{}
	svc := newTestService(store.repo(), &mockUploader{}, rec)

	sess, err := svc.Login(context.Background(), LoginInput{Email: "A@x.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	if sess.User.PasswordHash != "" || sess.User.RefreshToken != nil {
		t.Error("session user must be sanitized")
	}
	if sess.Tokens.AccessToken == "" || sess.Tokens.RefreshToken == "" {
		t.Fatal("tokens must be issued")
	}
	stored := store.storedToken("user-ana")
	if stored == nil || *stored != sess.Tokens.RefreshToken {
		t.Errorf("stored refresh token = %v, want issued token", stored)
	}
	if len(rec.logins) != 1 || !rec.logins[0] {
		t.Errorf("login metrics = %v, want [true]", rec.logins)
	}
}

func TestLogin_NeitherUsernameNorEmail_ValidationError(t *testing.T) {
	svc := newTestService(&mockUserRepo{}, &mockUploader{}, nil)

	_, err := svc.Login(context.Background(), LoginInput{Password: "pw"})
	wantKind(t, err, model.KindValidation)
}

func TestLogin_UnknownUser_NotFound(t *testing.T) {
	rec := &recordingRecorder{}
	svc := newTestService(&mockUserRepo{}, &mockUploader{}, rec)

	_, err := svc.Login(context.Background(), LoginInput{Username: "ghost", Password: "pw"})
	wantKind(t, err, model.KindNotFound)
	if len(rec.logins) != 1 || rec.logins[0] {
		t.Errorf("login metrics = %v, want [false]", rec.logins)
	}
}

func TestLogin_WrongPassword_UnauthorizedAndNoTokenStored(t *testing.T) {
	store := newUserStore(existingUser(t))
	svc := newTestService(store.repo(), &mockUploader{}, nil)

	_, err := svc.Login(context.Background(), LoginInput{Username: "ana", Password: "nope"})
	wantKind(t, err, model.KindUnauthorized)
	if store.storedToken("user-ana") != nil {
		t.Error("no refresh token should be stored on failed login")
	}
}

func TestLogin_PersistFailure_InternalError(t *testing.T) {
	u := existingUser(t)
	repo := &mockUserRepo{
		findByUsernameOrEmailFn: func(context.Context, string, string) (*model.User, error) { return u, nil },
		updateRefreshTokenFn: func(context.Context, string, *string, *time.Time) error {
			return errors.New("db down")
		},
	}
	svc := newTestService(repo, &mockUploader{}, nil)

	_, err := svc.Login(context.Background(), LoginInput{Username: "ana", Password: "pw"})
	wantKind(t, err, model.KindInternal)
}

// --- Logout ---

func TestLogout_ClearsStoredToken(t *testing.T) {
	store := newUserStore(existingUser(t))
	svc := newTestService(store.repo(), &mockUploader{}, nil)

	if _, err := svc.Login(context.Background(), LoginInput{Username: "ana", Password: "pw"}); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if err := svc.Logout(context.Background(), "user-ana"); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if store.storedToken("user-ana") != nil {
		t.Error("refresh token should be cleared")
	}
}

func TestLogout_StoreFailure_InternalError(t *testing.T) {
	repo := &mockUserRepo{
		updateRefreshTokenFn: func(context.Context, string, *string, *time.Time) error { return errors.New("db down") },
	}
	svc := newTestService(repo, &mockUploader{}, nil)

	wantKind(t, svc.Logout(context.Background(), "user-ana"), model.KindInternal)
}

// --- Refresh ---

func TestRefresh_RotatesOnceThenRejectsReplay(t *testing.T) {
	store := newUserStore(existingUser(t))
	rec := &recordingRecorder{}
	svc := newTestService(store.repo(), &mockUploader{}, rec)
	ctx := context.Background()

	sess, err := svc.Login(ctx, LoginInput{Username: "ana", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	r1 := sess.Tokens.RefreshToken

	pair, err := svc.Refresh(ctx, r1)
	if err != nil {
		t.Fatalf("first Refresh() error: %v", err)
	}
	if pair.RefreshToken == r1 {
		t.Fatal("rotation must produce a new refresh token")
	}
	if stored := store.storedToken("user-ana"); stored == nil || *stored != pair.RefreshToken {
		t.Error("stored token should be the rotated one")
	}

	_, err = svc.Refresh(ctx, r1)
	wantKind(t, err, model.KindUnauthorized)

	// 新しいトークンは引き続き使える
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Refresh with rotated token error: %v", err)
	}

	want := []string{metrics.RefreshRotated, metrics.RefreshReplayed, metrics.RefreshRotated}
	if len(rec.refreshes) != len(want) {
		t.Fatalf("refresh metrics = %v, want %v", rec.refreshes, want)
	}
	for i := range want {
		if rec.refreshes[i] != want[i] {
			t.Errorf("refresh metrics[%d] = %q, want %q", i, rec.refreshes[i], want[i])
		}
	}
}

func TestRefresh_AfterLogout_Unauthorized(t *testing.T) {
	store := newUserStore(existingUser(t))
	svc := newTestService(store.repo(), &mockUploader{}, nil)
	ctx := context.Background()

	sess, err := svc.Login(ctx, LoginInput{Username: "ana", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if err := svc.Logout(ctx, "user-ana"); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}

	_, err = svc.Refresh(ctx, sess.Tokens.RefreshToken)
	wantKind(t, err, model.KindUnauthorized)
}

func TestRefresh_ConcurrentUse_OnlyOneSucceeds(t *testing.T) {
	store := newUserStore(existingUser(t))
	svc := newTestService(store.repo(), &mockUploader{}, nil)
	ctx := context.Background()

	sess, err := svc.Login(ctx, LoginInput{Username: "ana", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, sess.Tokens.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if model.KindOf(err) != model.KindUnauthorized {
			t.Errorf("unexpected error kind: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
}

func TestRefresh_LostRace_Unauthorized(t *testing.T) {
	u := existingUser(t)
	svc := newTestService(nil, &mockUploader{}, nil)
	pair, err := svc.tokens.IssueTokenPair(u)
	if err != nil {
		t.Fatalf("IssueTokenPair() error: %v", err)
	}
	u.RefreshToken = &pair.RefreshToken

	svc.users = &mockUserRepo{
		findByIDFn: func(context.Context, string) (*model.User, error) { return u, nil },
		rotateRefreshTokenFn: func(context.Context, string, string, string, time.Time) (bool, error) {
			return false, nil
		},
	}

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	wantKind(t, err, model.KindUnauthorized)
}

func TestRefresh_InvalidInputs_Unauthorized(t *testing.T) {
	ts := newTestTokenService()
	other := NewTokenService(TokenConfig{
		AccessSecret: "x", AccessExpiry: time.Minute, RefreshSecret: "other-refresh", RefreshExpiry: time.Hour,
	})
	foreign, err := other.IssueTokenPair(&model.User{ID: "user-ana"})
	if err != nil {
		t.Fatalf("IssueTokenPair() error: %v", err)
	}
	ghostPair, err := ts.IssueTokenPair(&model.User{ID: "ghost"})
	if err != nil {
		t.Fatalf("IssueTokenPair() error: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"signed with another secret", foreign.RefreshToken},
		{"access token used as refresh", ghostPair.AccessToken},
		{"unknown user", ghostPair.RefreshToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&mockUserRepo{}, &mockUploader{}, nil)
			_, err := svc.Refresh(context.Background(), tt.token)
			wantKind(t, err, model.KindUnauthorized)
		})
	}
}

func TestRefresh_ExpiredToken_UnauthorizedWrapsCause(t *testing.T) {
	store := newUserStore(existingUser(t))
	svc := newTestService(store.repo(), &mockUploader{}, nil)
	svc.tokens.now = func() time.Time { return time.Now().Add(-241 * time.Hour) }

	sess, err := svc.Login(context.Background(), LoginInput{Username: "ana", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	svc.tokens.now = time.Now

	_, err = svc.Refresh(context.Background(), sess.Tokens.RefreshToken)
	wantKind(t, err, model.KindUnauthorized)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("error should wrap ErrTokenExpired, got %v", err)
	}
}
