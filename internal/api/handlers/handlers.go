// Package handlers provides HTTP request handlers for the schema registry's
// wire contract.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vectos/avro-schema-registry/internal/api/types"
	"github.com/vectos/avro-schema-registry/internal/compatibility"
	"github.com/vectos/avro-schema-registry/internal/registry"
)

// Handler provides HTTP handlers for the schema registry.
type Handler struct {
	registry *registry.Registry
	version  string
}

// Config holds handler configuration.
type Config struct {
	Version string
}

// New creates a new Handler.
func New(reg *registry.Registry) *Handler {
	return &Handler{registry: reg, version: "1.0.0"}
}

// NewWithConfig creates a new Handler with configuration.
func NewWithConfig(reg *registry.Registry, cfg Config) *Handler {
	return &Handler{registry: reg, version: cfg.Version}
}

// LivenessCheck handles GET /health/live
// Always returns 200 — confirms the process is alive and not deadlocked.
func (h *Handler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// ReadinessCheck handles GET /health/ready
// Returns 200 when storage is healthy, 503 when not.
func (h *Handler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.registry.IsHealthy(r.Context()) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
}

// ListSubjects handles GET /subjects
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.registry.ListSubjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrorCodeInternalError, "internal server error")
		return
	}
	if subjects == nil {
		subjects = []string{}
	}
	writeJSON(w, http.StatusOK, subjects)
}

// GetVersions handles GET /subjects/{subject}/versions
func (h *Handler) GetVersions(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	versions, err := h.registry.ListVersions(r.Context(), subject)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if versions == nil {
		versions = []int32{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// GetVersion handles GET /subjects/{subject}/versions/{version}
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	version, err := parseVersionParam(r)
	if err != nil {
		writeInvalidVersion(w, chi.URLParam(r, "version"))
		return
	}

	vs, err := h.registry.GetSchemaByVersion(r.Context(), subject, version)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.SubjectVersionResponse{
		Subject: vs.Subject,
		ID:      vs.ID,
		Version: vs.Version,
		Schema:  vs.JSON,
	})
}

// GetSchemaText handles GET /subjects/{subject}/versions/{version}/schema.
// Unlike every other success response in this handler set, the wire contract
// here is the raw schema text as the body, not a JSON-wrapped envelope.
func (h *Handler) GetSchemaText(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	version, err := parseVersionParam(r)
	if err != nil {
		writeInvalidVersion(w, chi.URLParam(r, "version"))
		return
	}

	vs, err := h.registry.GetSchemaByVersion(r.Context(), subject, version)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(vs.JSON))
}

// GetSchemaByID handles GET /schemas/ids/{id}
func (h *Handler) GetSchemaByID(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidSchema, "invalid schema id")
		return
	}

	schema, err := h.registry.GetSchemaByID(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.SchemaResponse{Schema: schema})
}

// RegisterSchema handles POST /subjects/{subject}/versions
func (h *Handler) RegisterSchema(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	var req types.RegisterSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeBadRequest, "invalid request body")
		return
	}
	if req.Schema == "" {
		writeError(w, http.StatusBadRequest, types.ErrorCodeBadRequest, "empty schema")
		return
	}

	id, err := h.registry.RegisterSchema(r.Context(), subject, req.Schema)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.RegisterSchemaResponse{ID: id})
}

// LookupSchema handles POST /subjects/{subject}
func (h *Handler) LookupSchema(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	var req types.RegisterSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeBadRequest, "invalid request body")
		return
	}
	if req.Schema == "" {
		writeError(w, http.StatusBadRequest, types.ErrorCodeBadRequest, "empty schema")
		return
	}

	vs, err := h.registry.GetSchemaByText(r.Context(), subject, req.Schema)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.SubjectVersionResponse{
		Subject: vs.Subject,
		ID:      vs.ID,
		Version: vs.Version,
		Schema:  vs.JSON,
	})
}

// CheckCompatibility handles POST /compatibility/subjects/{subject}/versions/{version}
func (h *Handler) CheckCompatibility(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	version, err := parseVersionParam(r)
	if err != nil {
		writeInvalidVersion(w, chi.URLParam(r, "version"))
		return
	}

	var req types.RegisterSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeBadRequest, "invalid request body")
		return
	}
	if req.Schema == "" {
		writeError(w, http.StatusBadRequest, types.ErrorCodeBadRequest, "empty schema")
		return
	}

	satisfied, err := h.registry.CompatibilityProbe(r.Context(), subject, version, req.Schema)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.CompatibilityCheckResponse{Compatibility: string(satisfied)})
}

// GetGlobalConfig handles GET /config
func (h *Handler) GetGlobalConfig(w http.ResponseWriter, r *http.Request) {
	policy, err := h.registry.GlobalConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrorCodeInternalError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, types.ConfigResponse{Compatibility: string(policy)})
}

// SetGlobalConfig handles PUT /config
func (h *Handler) SetGlobalConfig(w http.ResponseWriter, r *http.Request) {
	var req types.ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeBadRequest, "invalid request body")
		return
	}

	policy := compatibility.Policy(strings.ToUpper(req.Compatibility))
	if err := h.registry.SetGlobalConfig(r.Context(), policy); err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.ConfigResponse{Compatibility: string(policy)})
}

// GetSubjectConfig handles GET /config/{subject}
func (h *Handler) GetSubjectConfig(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	policy, err := h.registry.SubjectConfig(r.Context(), subject)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ConfigResponse{Compatibility: string(policy)})
}

// SetSubjectConfig handles PUT /config/{subject}
func (h *Handler) SetSubjectConfig(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	var req types.ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorCodeBadRequest, "invalid request body")
		return
	}

	policy := compatibility.Policy(strings.ToUpper(req.Compatibility))
	if err := h.registry.SetSubjectConfig(r.Context(), subject, policy); err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.ConfigResponse{Compatibility: string(policy)})
}

// parseVersionParam parses the {version} chi URL param into a registry.VersionID.
func parseVersionParam(r *http.Request) (registry.VersionID, error) {
	return registry.ParseVersionID(chi.URLParam(r, "version"))
}

func writeInvalidVersion(w http.ResponseWriter, token string) {
	writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidVersion,
		fmt.Sprintf("invalid version %q: must be \"latest\" or a positive integer", token))
}

// writeRegistryError maps the registry's terminal error taxonomy onto an
// HTTP status and error_code; anything else is an opaque 50001 whose body
// carries a fixed message, not the underlying error text.
func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrSubjectNotFound):
		writeError(w, http.StatusNotFound, types.ErrorCodeSubjectNotFound, "subject not found")
	case errors.Is(err, registry.ErrSchemaNotFound):
		writeError(w, http.StatusNotFound, types.ErrorCodeVersionNotFound, "schema not found")
	case errors.Is(err, registry.ErrInvalidVersion):
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidVersion, err.Error())
	case errors.Is(err, registry.ErrAvro):
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeInvalidSchema, err.Error())
	case errors.Is(err, registry.ErrIncompatibleSchema):
		writeError(w, http.StatusConflict, types.ErrorCodeIncompatibleSchema, err.Error())
	case errors.Is(err, registry.ErrInvalidCompatibility):
		writeError(w, http.StatusUnprocessableEntity, types.ErrorCodeBadRequest, err.Error())
	case errors.Is(err, registry.ErrBadRequest):
		writeError(w, http.StatusBadRequest, types.ErrorCodeBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, types.ErrorCodeInternalError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code int, message string) {
	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		ErrorCode: code,
		Message:   message,
	})
}
