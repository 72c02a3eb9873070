package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/platform/go/auth"
	"github.com/zenGate-Global/tenantgate/platform/go/notify"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrInvalidCredentials = &problem.ValidationError{Message: "invalid email or password"}
	ErrDisabled           = fmt.Errorf("route %w", problem.ErrNotFound)
	ErrPendingExpired     = fmt.Errorf("sign-in expired, start again: %w", problem.ErrUnauthorized)
	ErrEmailTaken         = fmt.Errorf("an account with this email already exists: %w", problem.ErrConflict)
	ErrTOTPEnrolled       = fmt.Errorf("second factor already enrolled: %w", problem.ErrConflict)
	ErrTOTPSetupRequired  = fmt.Errorf("second factor setup required: %w", problem.ErrConflict)
	ErrAlreadyVerified    = fmt.Errorf("email already verified: %w", problem.ErrConflict)
	ErrInvalidCode        = problem.Invalid("code", "invalid code")
	ErrInvalidToken       = problem.Invalid("token", "invalid token")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// UserRepository is the account storage of one tenancy database.
type UserRepository interface {
	CreateUser(ctx context.Context, params persistence.CreateUserParams) (persistence.UserRecord, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (persistence.UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (persistence.UserRecord, error)
	SetTOTPSecret(ctx context.Context, id uuid.UUID, secret string) (persistence.UserRecord, error)
}

// TokenRepository stores reset tokens and verification codes.
type TokenRepository interface {
	ReplaceResetToken(ctx context.Context, rec persistence.ResetTokenRecord) error
	ResetPassword(ctx context.Context, tokenID, hash string, now time.Time) (uuid.UUID, error)
	ReplaceVerificationCode(ctx context.Context, userID uuid.UUID, email, code string, expiresAt time.Time) error
	ConsumeVerificationCode(ctx context.Context, userID uuid.UUID, code string, now time.Time) error
}

// Repositories groups the stores of one tenancy.
type Repositories struct {
	Users    UserRepository
	Sessions auth.SessionRepository
	Tokens   TokenRepository
}

// RepositoriesFor returns the stores backing a tenancy.
type RepositoriesFor func(t *tenant.Tenancy) Repositories

// Pending is a password-verified user that still has to pass the second factor.
type Pending struct {
	UserID        uuid.UUID
	SetupRequired bool
}

// TOTPSetup is a freshly generated second-factor secret awaiting confirmation.
type TOTPSetup struct {
	URI    string
	Secret string
}

// Issued is a new session and the bearer token for its cookie.
type Issued struct {
	Token   string
	Session persistence.SessionRecord
}

// Config lists the service dependencies.
type Config struct {
	Sessions        *auth.Sessions
	RepositoriesFor RepositoriesFor
	Dispatcher      *notify.Dispatcher
	Issuer          string
	// PublicBaseURL supplies the scheme and port of links sent to users; the host is
	// replaced by the tenancy domain.
	PublicBaseURL string
	SignUp        bool
	Forgot        bool
	Clock         clock.Clock
	// Delay runs on every failed authentication attempt. Defaults to auth.Delay.
	Delay  func(ctx context.Context) error
	Logger *zap.Logger
}

// Service implements the sign-in, enrolment and recovery flows.
type Service struct {
	sessions *auth.Sessions
	reposFor RepositoriesFor
	dispatch *notify.Dispatcher
	issuer   string
	baseURL  *url.URL
	signUp   bool
	forgot   bool
	clock    clock.Clock
	delay    func(ctx context.Context) error
	logger   *zap.Logger
}

// New constructs a Service with required dependencies.
func New(cfg Config) (*Service, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("sessions are required")
	}
	if cfg.RepositoriesFor == nil {
		return nil, errors.New("repositories are required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("notification dispatcher is required")
	}
	base, err := url.Parse(cfg.PublicBaseURL)
	if err != nil || base.Scheme == "" {
		return nil, fmt.Errorf("invalid public base url %q", cfg.PublicBaseURL)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "tenantgate"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Delay == nil {
		cfg.Delay = auth.Delay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		sessions: cfg.Sessions,
		reposFor: cfg.RepositoriesFor,
		dispatch: cfg.Dispatcher,
		issuer:   cfg.Issuer,
		baseURL:  base,
		signUp:   cfg.SignUp,
		forgot:   cfg.Forgot,
		clock:    cfg.Clock,
		delay:    cfg.Delay,
		logger:   cfg.Logger,
	}, nil
}

// SignIn checks email and password. Every failure looks the same and takes a random
// amount of time.
func (s *Service) SignIn(ctx context.Context, tn *tenant.Tenancy, email, password string) (Pending, error) {
	email = strings.TrimSpace(email)
	if !validEmail(email) || password == "" {
		return Pending{}, s.fail(ctx, ErrInvalidCredentials)
	}

	user, err := s.reposFor(tn).Users.GetUserByEmail(ctx, email)
	if errors.Is(err, problem.ErrNotFound) || (err == nil && user.Hash == nil) {
		auth.BurnPasswordCheck(password)
		return Pending{}, s.fail(ctx, ErrInvalidCredentials)
	}
	if err != nil {
		return Pending{}, unavailable("load user", err)
	}

	ok, err := auth.VerifyPassword(password, *user.Hash)
	if err != nil {
		s.logger.Warn("stored password hash unreadable", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	if !ok {
		return Pending{}, s.fail(ctx, ErrInvalidCredentials)
	}

	return Pending{UserID: user.ID, SetupRequired: user.TFA == nil}, nil
}

// SignUp registers an account in a tenant database. The new user continues with
// second-factor setup.
func (s *Service) SignUp(ctx context.Context, tn *tenant.Tenancy, email, password, confirm string) (Pending, error) {
	if !s.signUp || tn.IsLandlord() {
		return Pending{}, ErrDisabled
	}

	email = strings.TrimSpace(email)
	fields := problem.FieldErrors{}
	if !validEmail(email) {
		fields["email"] = append(fields["email"], "invalid email")
	}
	if msg := passwordProblem(password); msg != "" {
		fields["password"] = append(fields["password"], msg)
	}
	if password != confirm {
		fields["confirm"] = append(fields["confirm"], "passwords do not match")
	}
	if len(fields) > 0 {
		return Pending{}, &problem.ValidationError{Message: "invalid sign-up request", Fields: fields}
	}

	if err := s.delay(ctx); err != nil {
		return Pending{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Pending{}, err
	}
	user, err := s.reposFor(tn).Users.CreateUser(ctx, persistence.CreateUserParams{Email: email, Hash: hash})
	if errors.Is(err, problem.ErrConflict) {
		return Pending{}, ErrEmailTaken
	}
	if err != nil {
		return Pending{}, unavailable("create user", err)
	}

	s.logger.Info("account created", zap.String("user_id", user.ID.String()), zap.String("tenant_domain", tn.Domain))
	return Pending{UserID: user.ID, SetupRequired: true}, nil
}

// BeginTOTPSetup generates a second-factor secret for a user without one.
func (s *Service) BeginTOTPSetup(ctx context.Context, tn *tenant.Tenancy, userID uuid.UUID) (TOTPSetup, error) {
	user, err := s.pendingUser(ctx, tn, userID)
	if err != nil {
		return TOTPSetup{}, err
	}
	if user.TFA != nil {
		return TOTPSetup{}, ErrTOTPEnrolled
	}

	key, err := auth.NewTOTPKey(s.issuer, user.Email)
	if err != nil {
		return TOTPSetup{}, err
	}
	return TOTPSetup{URI: key.URL(), Secret: key.Secret()}, nil
}

// ConfirmTOTPSetup stores secret once code proves the user's authenticator has it, then
// signs the user in.
func (s *Service) ConfirmTOTPSetup(ctx context.Context, tn *tenant.Tenancy, userID uuid.UUID, secret, code string) (Issued, error) {
	if !auth.VerifyTOTP(code, secret, s.clock.Now()) {
		return Issued{}, s.fail(ctx, ErrInvalidCode)
	}

	repos := s.reposFor(tn)
	_, err := repos.Users.SetTOTPSecret(ctx, userID, secret)
	switch {
	case errors.Is(err, problem.ErrConflict):
		return Issued{}, ErrTOTPEnrolled
	case errors.Is(err, problem.ErrNotFound):
		return Issued{}, ErrPendingExpired
	case err != nil:
		return Issued{}, unavailable("store second factor", err)
	}
	return s.issue(ctx, repos, userID)
}

// VerifyTOTP checks a second-factor code for a password-verified user and signs them in.
func (s *Service) VerifyTOTP(ctx context.Context, tn *tenant.Tenancy, userID uuid.UUID, code string) (Issued, error) {
	user, err := s.pendingUser(ctx, tn, userID)
	if err != nil {
		return Issued{}, err
	}
	if user.TFA == nil {
		return Issued{}, ErrTOTPSetupRequired
	}
	if !auth.VerifyTOTP(code, *user.TFA, s.clock.Now()) {
		return Issued{}, s.fail(ctx, ErrInvalidCode)
	}
	return s.issue(ctx, s.reposFor(tn), user.ID)
}

// Logout ends one session.
func (s *Service) Logout(ctx context.Context, tn *tenant.Tenancy, sessionID string) error {
	if err := s.sessions.InvalidateSession(ctx, s.reposFor(tn).Sessions, sessionID); err != nil {
		return unavailable("logout", err)
	}
	return nil
}

// RequestPasswordReset sends a reset link to a verified account. The outcome is not
// revealed: unknown and unverified emails succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, tn *tenant.Tenancy, email string) error {
	if !s.forgot || tn.IsLandlord() {
		return ErrDisabled
	}
	if err := s.delay(ctx); err != nil {
		return err
	}

	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return nil
	}

	repos := s.reposFor(tn)
	user, err := repos.Users.GetUserByEmail(ctx, email)
	if errors.Is(err, problem.ErrNotFound) {
		return nil
	}
	if err != nil {
		return unavailable("load user", err)
	}
	if !user.Verified {
		return nil
	}

	token, err := auth.GenerateResetToken()
	if err != nil {
		return err
	}
	rec := persistence.ResetTokenRecord{ID: token, UserID: user.ID, ExpiresAt: s.clock.Now().Add(auth.ResetTokenTTL)}
	if err := repos.Tokens.ReplaceResetToken(ctx, rec); err != nil {
		return unavailable("store reset token", err)
	}

	link := s.link(tn.Domain, "/auth/forgot", url.Values{"token": {token}})
	s.dispatch.Dispatch(notify.Message{
		Kind:    "password.reset",
		To:      user.Email,
		Subject: "Password reset request",
		Body:    "Use the link below to reset your password. If you did not ask for this, ignore this message.\n\n" + link,
	})
	return nil
}

// ResetPassword consumes a reset token, replaces the password, drops every session of
// the user and starts a new one.
func (s *Service) ResetPassword(ctx context.Context, tn *tenant.Tenancy, token, password string) (Issued, error) {
	if !s.forgot || tn.IsLandlord() {
		return Issued{}, ErrDisabled
	}
	if len(token) != auth.ResetTokenLength {
		return Issued{}, s.fail(ctx, ErrInvalidToken)
	}
	if msg := passwordProblem(password); msg != "" {
		return Issued{}, problem.Invalid("password", msg)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Issued{}, err
	}

	repos := s.reposFor(tn)
	userID, err := repos.Tokens.ResetPassword(ctx, token, hash, s.clock.Now())
	switch {
	case errors.Is(err, problem.ErrNotFound), errors.Is(err, persistence.ErrExpired):
		return Issued{}, s.fail(ctx, ErrInvalidToken)
	case err != nil:
		return Issued{}, unavailable("reset password", err)
	}

	s.logger.Info("password reset", zap.String("user_id", userID.String()), zap.String("tenant_domain", tn.Domain))
	return s.issue(ctx, repos, userID)
}

// RequestVerification sends a fresh email verification code, replacing earlier ones.
func (s *Service) RequestVerification(ctx context.Context, tn *tenant.Tenancy, userID uuid.UUID) error {
	user, err := s.pendingUser(ctx, tn, userID)
	if err != nil {
		return err
	}
	if user.Verified {
		return ErrAlreadyVerified
	}

	code, err := auth.GenerateVerificationCode()
	if err != nil {
		return err
	}
	if err := s.reposFor(tn).Tokens.ReplaceVerificationCode(ctx, user.ID, user.Email, code, s.clock.Now().Add(auth.VerificationCodeTTL)); err != nil {
		return unavailable("store verification code", err)
	}

	s.dispatch.Dispatch(notify.Message{
		Kind:    "email.verification",
		To:      user.Email,
		Subject: "Verify your email",
		Body:    "Your verification code is " + code,
	})
	return nil
}

// VerifyEmail marks the user verified when code matches the pending one.
func (s *Service) VerifyEmail(ctx context.Context, tn *tenant.Tenancy, userID uuid.UUID, code string) error {
	err := s.reposFor(tn).Tokens.ConsumeVerificationCode(ctx, userID, strings.TrimSpace(code), s.clock.Now())
	switch {
	case errors.Is(err, problem.ErrNotFound), errors.Is(err, persistence.ErrExpired):
		return s.fail(ctx, ErrInvalidCode)
	case err != nil:
		return unavailable("verify email", err)
	}
	return nil
}

func (s *Service) pendingUser(ctx context.Context, tn *tenant.Tenancy, userID uuid.UUID) (persistence.UserRecord, error) {
	user, err := s.reposFor(tn).Users.GetUserByID(ctx, userID)
	if errors.Is(err, problem.ErrNotFound) {
		return persistence.UserRecord{}, ErrPendingExpired
	}
	if err != nil {
		return persistence.UserRecord{}, unavailable("load user", err)
	}
	return user, nil
}

func (s *Service) issue(ctx context.Context, repos Repositories, userID uuid.UUID) (Issued, error) {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		return Issued{}, err
	}
	sess, err := s.sessions.CreateSession(ctx, repos.Sessions, token, userID)
	if err != nil {
		return Issued{}, unavailable("create session", err)
	}
	return Issued{Token: token, Session: sess}, nil
}

// fail waits out the failure delay before reporting err.
func (s *Service) fail(ctx context.Context, err error) error {
	if dErr := s.delay(ctx); dErr != nil {
		return dErr
	}
	return err
}

func (s *Service) link(domain, path string, query url.Values) string {
	u := *s.baseURL
	u.Host = domain
	if port := s.baseURL.Port(); port != "" {
		u.Host = domain + ":" + port
	}
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String()
}

func validEmail(email string) bool {
	return len(email) >= 3 && len(email) <= 255 && emailPattern.MatchString(email)
}

func passwordProblem(password string) string {
	if len(password) < 8 ||
		!strings.ContainsAny(password, "0123456789") ||
		!strings.ContainsAny(password, "abcdefghijklmnopqrstuvwxyz") ||
		!strings.ContainsAny(password, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return "password must be at least 8 characters and contain a digit, a lowercase and an uppercase letter"
	}
	return ""
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, problem.ErrServiceUnavailable, err)
}
