package server

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/k11v/forge/internal/build"
)

const maxInfraFileSize = 10 * 1024 * 1024 // 10MB

type handler struct {
	mux             *http.ServeMux
	service         *build.Service
	verificationKey ed25519.PublicKey
	log             *slog.Logger
}

func newHandler(service *build.Service, verificationKey ed25519.PublicKey, log *slog.Logger) *handler {
	mux := http.NewServeMux()
	h := &handler{mux: mux, service: service, verificationKey: verificationKey, log: log}

	mux.HandleFunc("GET /health", h.GetHealth)

	mux.HandleFunc("POST /infra-file-sets", h.CreateInfraFileSet)
	mux.HandleFunc("GET /infra-file-sets/{id}", h.GetInfraFileSet)
	mux.HandleFunc("POST /infra-file-sets/{id}/copy", h.CopyInfraFileSet)
	mux.HandleFunc("GET /infra-file-sets/{id}/files/{path...}", h.GetInfraFile)
	mux.HandleFunc("PUT /infra-file-sets/{id}/files/{path...}", h.PutInfraFile)
	mux.HandleFunc("DELETE /infra-file-sets/{id}/files/{path...}", h.DeleteInfraFile)

	mux.HandleFunc("POST /records", h.CreateRecord)
	mux.HandleFunc("GET /records/{id}", h.GetRecord)
	mux.HandleFunc("POST /records/{id}/build", h.RequestBuild)

	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}

	h.writeJSON(w, http.StatusOK, response{Status: "ok"})
}

type infraFileJSON struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	IsDir       bool   `json:"is_dir"`
}

type infraFileSetJSON struct {
	ID        uuid.UUID       `json:"id"`
	Owner     string          `json:"owner"`
	ParentID  *uuid.UUID      `json:"parent_id"`
	Edited    bool            `json:"edited"`
	Files     []infraFileJSON `json:"files"`
	CreatedAt time.Time       `json:"created_at"`
}

func newInfraFileSetJSON(s *build.InfraFileSet) *infraFileSetJSON {
	files := make([]infraFileJSON, 0, len(s.Files))
	for _, f := range s.Files {
		files = append(files, infraFileJSON(f))
	}
	return &infraFileSetJSON{
		ID:        s.ID,
		Owner:     s.Owner,
		ParentID:  s.ParentID,
		Edited:    s.Edited,
		Files:     files,
		CreatedAt: s.CreatedAt,
	}
}

func (h *handler) CreateInfraFileSet(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	s, err := h.service.CreateInfraFileSet(r.Context(), &build.CreateInfraFileSetParams{Owner: owner})
	if err != nil {
		h.serveError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newInfraFileSetJSON(s))
}

func (h *handler) GetInfraFileSet(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := pathValueUUID(w, r, "id")
	if !ok {
		return
	}

	s, ok := h.ownedInfraFileSet(w, r, owner, id)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, newInfraFileSetJSON(s))
}

func (h *handler) CopyInfraFileSet(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := pathValueUUID(w, r, "id")
	if !ok {
		return
	}

	s, err := h.service.CopyInfraFileSet(r.Context(), &build.CopyInfraFileSetParams{ID: id, Owner: owner})
	if err != nil {
		h.serveError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newInfraFileSetJSON(s))
}

func (h *handler) GetInfraFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := pathValueUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok = h.ownedInfraFileSet(w, r, owner, id); !ok {
		return
	}

	rc, err := h.service.OpenInfraFile(r.Context(), &build.OpenInfraFileParams{SetID: id, Path: r.PathValue("path")})
	if err != nil {
		h.serveError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err = io.Copy(w, rc); err != nil {
		h.log.Error("didn't write infra file", "infra_file_set_id", id, "error", err)
	}
}

func (h *handler) PutInfraFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := pathValueUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok = h.ownedInfraFileSet(w, r, owner, id); !ok {
		return
	}

	var (
		s   *build.InfraFileSet
		err error
	)
	// Query parameter dir.
	switch dir := r.URL.Query().Get("dir"); dir {
	case "true":
		s, err = h.service.PutInfraDirectory(r.Context(), &build.PutInfraDirectoryParams{
			SetID: id,
			Path:  r.PathValue("path"),
		})
	case "", "false":
		s, err = h.service.PutInfraFile(r.Context(), &build.PutInfraFileParams{
			SetID:   id,
			Path:    r.PathValue("path"),
			Content: http.MaxBytesReader(w, r.Body, maxInfraFileSize),
		})
	default:
		http.Error(w, fmt.Sprintf("invalid dir query parameter: %q", dir), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		if maxBytesErr := (*http.MaxBytesError)(nil); errors.As(err, &maxBytesErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.serveError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newInfraFileSetJSON(s))
}

func (h *handler) DeleteInfraFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := pathValueUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok = h.ownedInfraFileSet(w, r, owner, id); !ok {
		return
	}

	s, err := h.service.DeleteInfraFile(r.Context(), &build.DeleteInfraFileParams{SetID: id, Path: r.PathValue("path")})
	if err != nil {
		h.serveError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newInfraFileSetJSON(s))
}

type appCodeVersionJSON struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

type buildErrorJSON struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type buildJSON struct {
	ID          *uuid.UUID      `json:"id"`
	State       string          `json:"state"`
	Hash        string          `json:"hash,omitempty"`
	StartedAt   *time.Time      `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Failed      bool            `json:"failed"`
	DockerImage string          `json:"docker_image,omitempty"`
	DockerTag   string          `json:"docker_tag,omitempty"`
	Error       *buildErrorJSON `json:"error,omitempty"`
	ContainerID string          `json:"container_id,omitempty"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
	Message     string          `json:"message,omitempty"`
}

type recordJSON struct {
	ID              uuid.UUID            `json:"id"`
	Owner           string               `json:"owner"`
	InfraFileSetID  uuid.UUID            `json:"infra_file_set_id"`
	AppCodeVersions []appCodeVersionJSON `json:"app_code_versions"`
	Advanced        *bool                `json:"advanced"`
	Build           buildJSON            `json:"build"`
	CreatedAt       time.Time            `json:"created_at"`
}

func newRecordJSON(rec *build.Record) *recordJSON {
	acvs := make([]appCodeVersionJSON, 0, len(rec.AppCodeVersions))
	for _, v := range rec.AppCodeVersions {
		acvs = append(acvs, appCodeVersionJSON(v))
	}

	b := buildJSON{
		State:       string(rec.State()),
		Hash:        rec.Build.Hash,
		StartedAt:   rec.Build.StartedAt,
		CompletedAt: rec.Build.CompletedAt,
		Failed:      rec.Build.Failed,
		DockerImage: rec.Build.DockerImage,
		DockerTag:   rec.Build.DockerTag,
		ContainerID: rec.Build.ContainerID,
		TriggeredBy: rec.Build.TriggeredBy,
		Message:     rec.Build.Message,
	}
	if rec.Started() {
		id := rec.Build.ID
		b.ID = &id
	}
	if rec.Build.Error != nil {
		b.Error = &buildErrorJSON{Message: rec.Build.Error.Message, Stack: rec.Build.Error.Stack}
	}

	return &recordJSON{
		ID:              rec.ID,
		Owner:           rec.Owner,
		InfraFileSetID:  rec.InfraFileSetID,
		AppCodeVersions: acvs,
		Advanced:        rec.Advanced,
		Build:           b,
		CreatedAt:       rec.CreatedAt,
	}
}

func (h *handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	type request struct {
		InfraFileSetID  *uuid.UUID            `json:"infra_file_set_id"`
		AppCodeVersions *[]appCodeVersionJSON `json:"app_code_versions"`
		Advanced        *bool                 `json:"advanced"`
	}

	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req request
	if !decodeBody(w, r, &req, false) {
		return
	}

	// Body field infra_file_set_id.
	if req.InfraFileSetID == nil {
		http.Error(w, "invalid request body: missing infra_file_set_id", http.StatusUnprocessableEntity)
		return
	}

	// Body field app_code_versions.
	if req.AppCodeVersions == nil {
		http.Error(w, "invalid request body: missing app_code_versions", http.StatusUnprocessableEntity)
		return
	}
	acvs := make([]build.AppCodeVersion, 0, len(*req.AppCodeVersions))
	for _, v := range *req.AppCodeVersions {
		acvs = append(acvs, build.AppCodeVersion(v))
	}

	rec, err := h.service.CreateRecord(r.Context(), &build.CreateRecordParams{
		Owner:           owner,
		InfraFileSetID:  *req.InfraFileSetID,
		AppCodeVersions: acvs,
		Advanced:        req.Advanced,
	})
	if err != nil {
		h.serveError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newRecordJSON(rec))
}

func (h *handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := pathValueUUID(w, r, "id")
	if !ok {
		return
	}

	rec, ok := h.ownedRecord(w, r, owner, id)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, newRecordJSON(rec))
}

func (h *handler) RequestBuild(w http.ResponseWriter, r *http.Request) {
	type request struct {
		TriggeredBy string `json:"triggered_by"`
		Message     string `json:"message"`
		NoCache     bool   `json:"no_cache"`
	}

	type response struct {
		Record      *recordJSON `json:"record"`
		DuplicateID *uuid.UUID  `json:"duplicate_id"`
	}

	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id, ok := pathValueUUID(w, r, "id")
	if !ok {
		return
	}

	var req request
	if !decodeBody(w, r, &req, true) {
		return
	}

	if _, ok = h.ownedRecord(w, r, owner, id); !ok {
		return
	}

	result, err := h.service.RequestBuild(r.Context(), &build.RequestBuildParams{
		RecordID:    id,
		TriggeredBy: req.TriggeredBy,
		Message:     req.Message,
		NoCache:     req.NoCache,
	})
	if err != nil {
		h.serveError(w, err)
		return
	}

	resp := response{Record: newRecordJSON(result.Record)}
	status := http.StatusCreated
	if result.Duplicate != nil {
		resp.DuplicateID = &result.Duplicate.ID
		status = http.StatusOK
	}

	h.writeJSON(w, status, resp)
}

// authenticate writes 401 and returns false when the request has no valid token.
func (h *handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, err := ownerFromRequest(r, h.verificationKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return "", false
	}
	return owner, true
}

// ownedRecord hides records of other owners behind 404.
func (h *handler) ownedRecord(w http.ResponseWriter, r *http.Request, owner string, id uuid.UUID) (*build.Record, bool) {
	rec, err := h.service.GetRecord(r.Context(), &build.GetRecordParams{ID: id})
	if err != nil {
		h.serveError(w, err)
		return nil, false
	}
	if rec.Owner != owner {
		h.serveError(w, build.ErrNotFound)
		return nil, false
	}
	return rec, true
}

// ownedInfraFileSet hides sets of other owners behind 404.
func (h *handler) ownedInfraFileSet(w http.ResponseWriter, r *http.Request, owner string, id uuid.UUID) (*build.InfraFileSet, bool) {
	s, err := h.service.GetInfraFileSet(r.Context(), &build.GetInfraFileSetParams{ID: id})
	if err != nil {
		h.serveError(w, err)
		return nil, false
	}
	if s.Owner != owner {
		h.serveError(w, build.ErrNotFound)
		return nil, false
	}
	return s, true
}

func (h *handler) serveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, build.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, build.ErrAccessDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, build.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, build.ErrFileTooLarge):
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, build.ErrInvalid), errors.Is(err, build.ErrIntegrity):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.log.Error("internal server error", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("didn't write response", "error", err)
	}
}

func pathValueUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid %q request path value: %w", name, err).Error(), http.StatusUnprocessableEntity)
		return uuid.UUID{}, false
	}
	return id, true
}

// decodeBody decodes a single JSON value into v.
// With optional set, an empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusUnprocessableEntity)
		return false
	}
	if dec.More() {
		http.Error(w, "invalid request body: multiple top-level values", http.StatusUnprocessableEntity)
		return false
	}
	return true
}
