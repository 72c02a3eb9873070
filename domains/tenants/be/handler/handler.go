package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/domains/tenants/be/service"
	"github.com/zenGate-Global/tenantgate/platform/go/logging"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
)

const maxBodyBytes = 1 << 16

// Tenant is the JSON representation of a registered tenant.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type createRequest struct {
	Name   string  `json:"name"`
	Domain *string `json:"domain,omitempty"`
}

type updateRequest struct {
	Name   *string `json:"name,omitempty"`
	Domain *string `json:"domain,omitempty"`
}

type listResponse struct {
	Items []Tenant `json:"items"`
}

// Handler exposes the tenant registry to the landlord.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the registry endpoints; callers place it under /landlord/tenants.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{tenantId}", h.Get)
	r.Patch("/{tenantId}", h.Update)
	r.Delete("/{tenantId}", h.Delete)
	return r
}

// List implements GET /landlord/tenants
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	items := make([]Tenant, 0, len(tenants))
	for _, t := range tenants {
		items = append(items, toAPITenant(t))
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items})
}

// Create implements POST /landlord/tenants
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	created, err := h.svc.Create(r.Context(), service.CreateInput{Name: body.Name, Domain: body.Domain})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/landlord/tenants/"+created.ID.String())
	writeJSON(w, http.StatusCreated, toAPITenant(created))
}

// Get implements GET /landlord/tenants/{tenantId}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPITenant(t))
}

// Update implements PATCH /landlord/tenants/{tenantId}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body updateRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	updated, err := h.svc.Update(r.Context(), id, service.UpdateInput{Name: body.Name, Domain: body.Domain})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPITenant(updated))
}

// Delete implements DELETE /landlord/tenants/{tenantId}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	problem.Write(w, logging.FromRequest(r, h.logger), err)
}

func tenantID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantId"))
	if err != nil {
		// An unparseable id can never name a tenant.
		return uuid.Nil, service.ErrNotFound
	}
	return id, nil
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

func toAPITenant(t service.Tenant) Tenant {
	return Tenant{
		ID:        t.ID,
		Name:      t.Name,
		Domain:    t.Domain,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
