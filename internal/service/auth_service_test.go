package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"otp-auth/internal/domain"
	"otp-auth/internal/email"
	"otp-auth/internal/repository"
)

type captureSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (s *captureSender) Send(_ context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *captureSender) last() email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

var codePattern = regexp.MustCompile(`\n    (\d+)\n`)

func codeFrom(t *testing.T, msg email.Message) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(msg.Body)
	if len(m) != 2 {
		t.Fatalf("no code in message body %q", msg.Body)
	}
	return m[1]
}

type failingRepo struct {
	*repository.MemoryIdentityRepository
	getErr error
}

func (f *failingRepo) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	if f.getErr != nil {
		return domain.Identity{}, f.getErr
	}
	return f.MemoryIdentityRepository.GetByEmail(ctx, email)
}

type authFixture struct {
	svc    *AuthService
	repo   *repository.MemoryIdentityRepository
	store  *memoryOTPStore
	sender *captureSender
	clock  *fakeClock
}

func newAuthFixture(t *testing.T, kind domain.Kind, cfg AuthConfig) *authFixture {
	t.Helper()
	clock := newFakeClock()
	repo := repository.NewMemoryIdentityRepository(kind)
	store := newMemoryOTPStore(clock.Now)
	sender := &captureSender{}
	tokens := NewTokenCodec("secret", time.Hour)
	tokens.now = clock.Now
	svc := NewAuthService(zap.NewNop(), repo, NewBcryptHasher(bcrypt.MinCost), NewOTPIssuer(store), tokens, sender, nil, cfg)
	svc.now = clock.Now
	return &authFixture{svc: svc, repo: repo, store: store, sender: sender, clock: clock}
}

func (f *authFixture) register(t *testing.T, username, emailAddr, password string) Session {
	t.Helper()
	session, err := f.svc.Register(context.Background(), RegisterInput{Username: username, Email: emailAddr, Password: password})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return session
}

func TestAuthService_ScenarioA_RegisterLoginVerify(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()

	session := f.register(t, "alice", "a@x.com", "Secret123")
	if session.Token == "" || session.Identity.Verified {
		t.Fatalf("expected token and unverified identity, got %+v", session)
	}
	stored, _ := f.repo.GetByEmail(ctx, "a@x.com")
	if stored.PasswordHash == "Secret123" || !f.svc.hasher.Compare("Secret123", stored.PasswordHash) {
		t.Fatalf("expected bcrypt digest stored")
	}
	if stored.Role != domain.RoleUser || stored.Kind != domain.KindUser {
		t.Fatalf("unexpected role/kind: %+v", stored)
	}

	login, err := f.svc.Login(ctx, "a@x.com", "Secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Token == "" || f.sender.count() != 1 || f.sender.last().To != "a@x.com" {
		t.Fatalf("expected token and one otp email, got %+v", login)
	}
	if !login.OTPExpiresAt.Equal(f.clock.Now().Add(DefaultLoginTTL)) {
		t.Fatalf("expected 5m otp expiry, got %v", login.OTPExpiresAt)
	}
	stored, _ = f.repo.GetByEmail(ctx, "a@x.com")
	if stored.Verified {
		t.Fatalf("login alone must not verify")
	}

	identity, err := f.svc.VerifyOTP(ctx, "a@x.com", codeFrom(t, f.sender.last()))
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	stored, _ = f.repo.GetByEmail(ctx, "a@x.com")
	if !identity.Verified || !stored.Verified {
		t.Fatalf("expected identity verified")
	}
}

func TestAuthService_RegisterDuplicateDoesNotWrite(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	f.register(t, "alice", "a@x.com", "Secret123")

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "mallory", Email: "a@x.com", Password: "Other123"})
	if !errors.Is(err, ErrIdentityExists) {
		t.Fatalf("expected ErrIdentityExists, got %v", err)
	}
	stored, _ := f.repo.GetByEmail(context.Background(), "a@x.com")
	if f.repo.Len() != 1 || stored.Username != "alice" {
		t.Fatalf("expected no write, got %+v", stored)
	}
}

func TestAuthService_RegisterValidation(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	cases := []RegisterInput{
		{Username: "", Email: "a@x.com", Password: "Secret123"},
		{Username: "alice", Email: "not-an-email", Password: "Secret123"},
		{Username: "alice", Email: "a@x.com", Password: "   "},
		{Username: "alice", Email: "Alice <a@x.com>", Password: "Secret123"},
	}
	for _, in := range cases {
		if _, err := f.svc.Register(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", in, err)
		}
	}
	if f.repo.Len() != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestAuthService_ScenarioB_WrongPassword(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	f.register(t, "alice", "a@x.com", "Secret123")

	res, err := f.svc.Login(context.Background(), "a@x.com", "wrong")
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if res.Token != "" || f.sender.count() != 0 {
		t.Fatalf("expected no token and no otp")
	}
	if _, ok, _ := f.store.Get(context.Background(), OTPKey(PurposeLogin, domain.KindUser, "a@x.com")); ok {
		t.Fatalf("expected no otp stored")
	}
}

func TestAuthService_LoginUnknownEmail(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	if _, err := f.svc.Login(context.Background(), "ghost@x.com", "Secret123"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestAuthService_EveryLoginNeedsFreshOTP(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()
	f.register(t, "alice", "a@x.com", "Secret123")

	codes := []string{"111111", "222222"}
	f.svc.otp.generate = func(int) (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	if _, err := f.svc.Login(ctx, "a@x.com", "Secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", "111111"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := f.svc.Login(ctx, "a@x.com", "Secret123"); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if f.sender.count() != 2 || codeFrom(t, f.sender.last()) != "222222" {
		t.Fatalf("expected otp re-issued for verified identity")
	}
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", "111111"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected consumed code rejected, got %v", err)
	}
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", "222222"); err != nil {
		t.Fatalf("verify second code: %v", err)
	}
}

func TestAuthService_VerifyOTPFailures(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()

	if _, err := f.svc.VerifyOTP(ctx, "ghost@x.com", "123456"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}

	f.register(t, "alice", "a@x.com", "Secret123")
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", "123456"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP without issuance, got %v", err)
	}

	if _, err := f.svc.Login(ctx, "a@x.com", "Secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	code := codeFrom(t, f.sender.last())
	f.clock.Advance(DefaultLoginTTL)
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP after ttl, got %v", err)
	}
	stored, _ := f.repo.GetByEmail(ctx, "a@x.com")
	if stored.Verified {
		t.Fatalf("expected identity to stay unverified")
	}
}

func TestAuthService_VerifyOTPSingleUse(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()
	f.register(t, "alice", "a@x.com", "Secret123")
	if _, err := f.svc.Login(ctx, "a@x.com", "Secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	code := codeFrom(t, f.sender.last())

	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", code); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP on reuse, got %v", err)
	}
}

func TestAuthService_ScenarioC_ForgotAndReset(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()
	f.register(t, "alice", "a@x.com", "Secret123")

	expiresAt, err := f.svc.ForgotPassword(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if !expiresAt.Equal(f.clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("expected 600s reset ttl, got %v", expiresAt)
	}
	if _, ok, _ := f.store.Get(ctx, OTPKey(PurposeReset, domain.KindUser, "a@x.com")); !ok {
		t.Fatalf("expected otp under reset key")
	}
	if f.sender.count() != 1 || f.sender.last().Subject != email.PasswordResetMessage("", "", time.Time{}).Subject {
		t.Fatalf("expected reset email")
	}

	f.clock.Advance(10*time.Minute - time.Second)
	if _, ok, _ := f.store.Get(ctx, OTPKey(PurposeReset, domain.KindUser, "a@x.com")); !ok {
		t.Fatalf("expected reset otp alive before 600s")
	}

	// Sin RESET_REQUIRES_OTP el reset no exige el OTP.
	if err := f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", NewPassword: "NewSecret1"}); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "Secret123"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "NewSecret1"); err != nil {
		t.Fatalf("expected new password accepted, got %v", err)
	}
}

func TestAuthService_ResetUnknownEmail(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()
	if _, err := f.svc.ForgotPassword(ctx, "ghost@x.com"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "ghost@x.com", NewPassword: "NewSecret1"}); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestAuthService_ResetRequiresOTP(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{ResetRequiresOTP: true})
	ctx := context.Background()
	f.register(t, "alice", "a@x.com", "Secret123")

	if err := f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", NewPassword: "NewSecret1"}); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP without code, got %v", err)
	}
	if _, err := f.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	code := codeFrom(t, f.sender.last())
	if err := f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", NewPassword: "NewSecret1", OTP: code}); err != nil {
		t.Fatalf("reset with code: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", NewPassword: "Again1234", OTP: code}); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected reset code to be single use, got %v", err)
	}
}

func TestAuthService_ResetOTPDoesNotInvalidateLoginOTP(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()
	f.register(t, "alice", "a@x.com", "Secret123")

	if _, err := f.svc.Login(ctx, "a@x.com", "Secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	loginCode := codeFrom(t, f.sender.last())
	if _, err := f.svc.ForgotPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	if _, err := f.svc.VerifyOTP(ctx, "a@x.com", loginCode); err != nil {
		t.Fatalf("expected login otp to survive reset issuance, got %v", err)
	}
}

func TestAuthService_ScenarioD_ConcurrentLoginsLastStoreWins(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()
	f.register(t, "alice", "a@x.com", "Secret123")

	codes := []string{"111111", "222222"}
	var next int
	var mu sync.Mutex
	f.svc.otp.generate = func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[next]
		next++
		return code, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Login(ctx, "a@x.com", "Secret123"); err != nil {
				t.Errorf("login: %v", err)
			}
		}()
	}
	wg.Wait()

	var ok, invalid int
	for _, code := range codes {
		_, err := f.svc.VerifyOTP(ctx, "a@x.com", code)
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidOTP):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || invalid != 1 {
		t.Fatalf("expected exactly one code to verify, got ok=%d invalid=%d", ok, invalid)
	}
}

func TestAuthService_SendFailureDiscardsOTP(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()
	f.register(t, "alice", "a@x.com", "Secret123")
	f.sender.err = errors.New("smtp down")

	_, err := f.svc.Login(ctx, "a@x.com", "Secret123")
	if !errors.Is(err, ErrEmailSendFailure) || !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrEmailSendFailure, got %v", err)
	}
	if _, ok, _ := f.store.Get(ctx, OTPKey(PurposeLogin, domain.KindUser, "a@x.com")); ok {
		t.Fatalf("expected otp discarded after send failure")
	}
}

type denyLimiter struct{ keys []string }

func (d *denyLimiter) Allow(_ context.Context, key string) bool {
	d.keys = append(d.keys, key)
	return false
}

func TestAuthService_RateLimited(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	limiter := &denyLimiter{}
	f.svc.limiter = limiter
	ctx := context.Background()
	f.register(t, "alice", "a@x.com", "Secret123")

	if _, err := f.svc.Login(ctx, "a@x.com", "Secret123"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := f.svc.ForgotPassword(ctx, "a@x.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if f.sender.count() != 0 {
		t.Fatalf("expected no emails when rate limited")
	}
	if len(limiter.keys) != 2 || limiter.keys[0] != "login:user:a@x.com" || limiter.keys[1] != "reset:user:a@x.com" {
		t.Fatalf("unexpected limiter keys: %+v", limiter.keys)
	}
}

func TestAuthService_UpstreamFailure(t *testing.T) {
	repo := &failingRepo{
		MemoryIdentityRepository: repository.NewMemoryIdentityRepository(domain.KindUser),
		getErr:                   errors.New("connection refused"),
	}
	svc := NewAuthService(zap.NewNop(), repo, NewBcryptHasher(bcrypt.MinCost), NewOTPIssuer(NewMemoryOTPStore()),
		NewTokenCodec("secret", time.Hour), &captureSender{}, nil, AuthConfig{})

	if _, err := svc.Login(context.Background(), "a@x.com", "Secret123"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if _, err := svc.Register(context.Background(), RegisterInput{Username: "a", Email: "a@x.com", Password: "Secret123"}); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestAuthService_Resolve(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()
	session := f.register(t, "alice", "a@x.com", "Secret123")

	view, err := f.svc.Resolve(ctx, session.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if view.Email != "a@x.com" || view.Username != "alice" || view.Verified {
		t.Fatalf("unexpected view: %+v", view)
	}

	for _, token := range []string{"", "garbage"} {
		if _, err := f.svc.Resolve(ctx, token); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for %q, got %v", token, err)
		}
	}

	adminToken, _, _ := f.svc.tokens.Mint(domain.KindAdmin, "a@x.com")
	if _, err := f.svc.Resolve(ctx, adminToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected kind mismatch rejected, got %v", err)
	}

	ghost, _, _ := f.svc.tokens.Mint(domain.KindUser, "ghost@x.com")
	if _, err := f.svc.Resolve(ctx, ghost); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unknown identity rejected, got %v", err)
	}

	f.clock.Advance(time.Hour + time.Second)
	if _, err := f.svc.Resolve(ctx, session.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestAuthService_UpdateProfile(t *testing.T) {
	f := newAuthFixture(t, domain.KindUser, AuthConfig{})
	ctx := context.Background()
	session := f.register(t, "alice", "a@x.com", "Secret123")

	name, bio := "  alice2 ", "hello"
	updated, err := f.svc.UpdateProfile(ctx, session.Identity.ID, domain.ProfileUpdate{Username: &name, Bio: &bio})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Username != "alice2" || updated.Bio != "hello" {
		t.Fatalf("unexpected identity: %+v", updated)
	}

	if _, err := f.svc.UpdateProfile(ctx, session.Identity.ID, domain.ProfileUpdate{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty update, got %v", err)
	}
	blank := " "
	if _, err := f.svc.UpdateProfile(ctx, session.Identity.ID, domain.ProfileUpdate{Username: &blank}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank username, got %v", err)
	}
	if _, err := f.svc.UpdateProfile(ctx, "missing", domain.ProfileUpdate{Bio: &bio}); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestAuthService_AdminFlow(t *testing.T) {
	f := newAuthFixture(t, domain.KindAdmin, AuthConfig{})
	ctx := context.Background()

	created, err := f.svc.EnsureIdentity(ctx, RegisterInput{Username: "root", Email: "root@x.com", Password: "Secret123"})
	if err != nil || !created {
		t.Fatalf("ensure identity: %v %v", created, err)
	}
	created, err = f.svc.EnsureIdentity(ctx, RegisterInput{Username: "root", Email: "root@x.com", Password: "Other1234"})
	if err != nil || created {
		t.Fatalf("expected idempotent seed, got %v %v", created, err)
	}
	stored, _ := f.repo.GetByEmail(ctx, "root@x.com")
	if !stored.Verified || stored.Role != domain.RoleAdmin || stored.Kind != domain.KindAdmin {
		t.Fatalf("unexpected seeded admin: %+v", stored)
	}

	if _, err := f.svc.Login(ctx, "root@x.com", "Secret123"); err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if want := email.VerificationOTPMessage("", "", time.Time{}, true).Subject; f.sender.last().Subject != want {
		t.Fatalf("expected admin-flavored email, got %q", f.sender.last().Subject)
	}
	if _, ok, _ := f.store.Get(ctx, OTPKey(PurposeLogin, domain.KindAdmin, "root@x.com")); !ok {
		t.Fatalf("expected otp under admin key")
	}
}
