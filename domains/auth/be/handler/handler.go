package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/domains/auth/be/service"
	"github.com/zenGate-Global/tenantgate/platform/go/auth"
	"github.com/zenGate-Global/tenantgate/platform/go/logging"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
	tenantmw "github.com/zenGate-Global/tenantgate/platform/go/tenant/middleware"
)

const (
	maxBodyBytes = 1 << 14

	resetRequestedMessage = "If the email belongs to a verified account, a reset link is on its way"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// NextResponse tells the client where the flow continues.
type NextResponse struct {
	Next string `json:"next"`
}

// SetupResponse carries a new TOTP secret for the authenticator app.
type SetupResponse struct {
	URI    string `json:"uri"`
	Secret string `json:"secret"`
}

// MessageResponse is a fixed informational reply.
type MessageResponse struct {
	Message string `json:"message"`
}

// Handler serves the /auth endpoints.
type Handler struct {
	svc     *service.Service
	cookies *auth.Cookies
	logger  *zap.Logger
	// forgot guards the password-reset routes with their own limiter.
	forgot func(http.Handler) http.Handler
}

// New constructs a Handler. forgot wraps the password-reset routes and may be nil.
func New(svc *service.Service, cookies *auth.Cookies, forgot func(http.Handler) http.Handler, logger *zap.Logger) *Handler {
	if svc == nil || cookies == nil {
		panic("auth handler requires a service and cookies")
	}
	if logger == nil {
		panic("logger is required")
	}
	if forgot == nil {
		forgot = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{svc: svc, cookies: cookies, forgot: forgot, logger: logger}
}

// Routes mounts the endpoints; callers place it under /auth.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/signin", h.SignIn)
	r.Post("/signup", h.SignUp)
	r.Get("/otp/setup", h.BeginTOTPSetup)
	r.Post("/otp/setup", h.ConfirmTOTPSetup)
	r.Post("/otp", h.VerifyTOTP)
	r.Post("/logout", h.Logout)
	r.With(h.forgot).Post("/forgot", h.RequestPasswordReset)
	r.With(h.forgot).Post("/reset", h.ResetPassword)
	r.Post("/verify/request", h.RequestVerification)
	r.Post("/verify", h.VerifyEmail)
	return r
}

// SignIn implements POST /auth/signin
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	var body credentialsRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	pending, err := h.svc.SignIn(r.Context(), tn, body.Email, body.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cookies.SetIdentityCookie(w, tn.Domain, pending.UserID)
	writeJSON(w, http.StatusOK, nextStep(pending))
}

// SignUp implements POST /auth/signup
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	var body signUpRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	pending, err := h.svc.SignUp(r.Context(), tn, body.Email, body.Password, body.Confirm)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cookies.SetIdentityCookie(w, tn.Domain, pending.UserID)
	writeJSON(w, http.StatusCreated, nextStep(pending))
}

// BeginTOTPSetup implements GET /auth/otp/setup
func (h *Handler) BeginTOTPSetup(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	userID, ok := h.cookies.PendingIdentity(r)
	if !ok {
		h.fail(w, r, service.ErrPendingExpired)
		return
	}

	setup, err := h.svc.BeginTOTPSetup(r.Context(), tn, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cookies.SetSecrecyCookie(w, tn.Domain, setup.Secret)
	writeJSON(w, http.StatusOK, SetupResponse{URI: setup.URI, Secret: setup.Secret})
}

// ConfirmTOTPSetup implements POST /auth/otp/setup
func (h *Handler) ConfirmTOTPSetup(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	userID, okID := h.cookies.PendingIdentity(r)
	secret, okSecret := h.cookies.PendingSecret(r)
	if !okID || !okSecret {
		h.clearPending(w, tn)
		h.fail(w, r, service.ErrPendingExpired)
		return
	}
	var body codeRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	issued, err := h.svc.ConfirmTOTPSetup(r.Context(), tn, userID, secret, body.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearPending(w, tn)
	h.signedIn(w, tn, issued)
}

// VerifyTOTP implements POST /auth/otp
func (h *Handler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	userID, ok := h.cookies.PendingIdentity(r)
	if !ok {
		h.fail(w, r, service.ErrPendingExpired)
		return
	}
	var body codeRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	issued, err := h.svc.VerifyTOTP(r.Context(), tn, userID, body.Code)
	if errors.Is(err, service.ErrPendingExpired) {
		h.cookies.DeleteIdentityCookie(w, tn.Domain)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cookies.DeleteIdentityCookie(w, tn.Domain)
	h.signedIn(w, tn, issued)
}

// Logout implements POST /auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.fail(w, r, auth.ErrNoSession)
		return
	}

	if err := h.svc.Logout(r.Context(), tn, principal.Session.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.cookies.DeleteSessionCookie(w, tn.Domain)
	writeJSON(w, http.StatusOK, NextResponse{Next: auth.SignInPath})
}

// RequestPasswordReset implements POST /auth/forgot
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	var body forgotRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), tn, body.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageResponse{Message: resetRequestedMessage})
}

// ResetPassword implements POST /auth/reset
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	var body resetRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	issued, err := h.svc.ResetPassword(r.Context(), tn, body.Token, body.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.signedIn(w, tn, issued)
}

// RequestVerification implements POST /auth/verify/request
func (h *Handler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.fail(w, r, auth.ErrNoSession)
		return
	}

	if err := h.svc.RequestVerification(r.Context(), tn, principal.User.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// VerifyEmail implements POST /auth/verify
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	tn, ok := h.tenancy(w, r)
	if !ok {
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.fail(w, r, auth.ErrNoSession)
		return
	}
	var body codeRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.svc.VerifyEmail(r.Context(), tn, principal.User.ID, body.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) signedIn(w http.ResponseWriter, tn *tenant.Tenancy, issued service.Issued) {
	h.cookies.SetSessionCookie(w, tn.Domain, issued.Token, issued.Session.ExpiresAt)
	next := "/"
	if tn.IsLandlord() {
		next = auth.LandlordPrefix
	}
	writeJSON(w, http.StatusOK, NextResponse{Next: next})
}

func (h *Handler) clearPending(w http.ResponseWriter, tn *tenant.Tenancy) {
	h.cookies.DeleteIdentityCookie(w, tn.Domain)
	h.cookies.DeleteSecrecyCookie(w, tn.Domain)
}

func (h *Handler) tenancy(w http.ResponseWriter, r *http.Request) (*tenant.Tenancy, bool) {
	tn, err := tenantmw.RequireTenancy(r)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return tn, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	problem.Write(w, logging.FromRequest(r, h.logger), err)
}

func nextStep(p service.Pending) NextResponse {
	if p.SetupRequired {
		return NextResponse{Next: auth.AuthPrefix + "/otp/setup"}
	}
	return NextResponse{Next: auth.AuthPrefix + "/otp"}
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &problem.ValidationError{Message: "request body is required"}
		}
		return &problem.ValidationError{Message: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
