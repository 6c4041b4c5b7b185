package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftsync/driftsync/pkg/config"
	"github.com/driftsync/driftsync/pkg/drive"
)

// DriveHandler handles drive management endpoints.
type DriveHandler struct {
	manager *drive.Manager
}

// NewDriveHandler creates a new DriveHandler.
func NewDriveHandler(manager *drive.Manager) *DriveHandler {
	return &DriveHandler{manager: manager}
}

// CreateDriveRequest is the request body for POST /v1/drives.
type CreateDriveRequest struct {
	Name           string         `json:"name,omitempty"`
	LocalPath      string         `json:"local_path"`
	Backend        BackendRequest `json:"backend"`
	ConflictPolicy string         `json:"conflict_policy,omitempty"`
	Ignore         []string       `json:"ignore,omitempty"`
	Disabled       bool           `json:"disabled,omitempty"`
}

// BackendRequest selects and configures a drive's remote backend.
type BackendRequest struct {
	Type string `json:"type"`

	// Filesystem backend.
	Root string `json:"root,omitempty"`

	// S3 backend.
	Bucket          string `json:"bucket,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	UsePathStyle    bool   `json:"use_path_style,omitempty"`
}

// SetEnabledRequest is the request body for POST /v1/drives/{id}/enabled.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// CreateDriveResponse is the response body for POST /v1/drives.
type CreateDriveResponse struct {
	ID string `json:"id"`
}

// List handles GET /v1/drives.
func (h *DriveHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.manager.Drives())
}

// Get handles GET /v1/drives/{id}.
func (h *DriveHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Drive(chi.URLParam(r, "id"))
	if err != nil {
		NotFound(w, "Drive not found")
		return
	}
	WriteJSONOK(w, status)
}

// Create handles POST /v1/drives.
func (h *DriveHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDriveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.LocalPath == "" {
		BadRequest(w, "local_path is required")
		return
	}
	if req.Backend.Type == "" {
		BadRequest(w, "backend.type is required")
		return
	}

	id, err := h.manager.AddDrive(r.Context(), config.DriveConfig{
		Name:           req.Name,
		LocalPath:      req.LocalPath,
		ConflictPolicy: req.ConflictPolicy,
		Ignore:         req.Ignore,
		Disabled:       req.Disabled,
		Backend: config.BackendConfig{
			Type: config.BackendType(req.Backend.Type),
			Filesystem: config.FilesystemBackendConfig{
				Root: req.Backend.Root,
			},
			S3: config.S3BackendConfig{
				Bucket:          req.Backend.Bucket,
				Region:          req.Backend.Region,
				Endpoint:        req.Backend.Endpoint,
				Prefix:          req.Backend.Prefix,
				AccessKeyID:     req.Backend.AccessKeyID,
				SecretAccessKey: req.Backend.SecretAccessKey,
				UsePathStyle:    req.Backend.UsePathStyle,
			},
		},
	})
	switch {
	case errors.Is(err, drive.ErrDuplicatePath):
		Conflict(w, "A drive is already registered at this local path")
	case errors.Is(err, drive.ErrInvalidCredential):
		BadRequest(w, "Backend rejected the provided credentials")
	case err != nil:
		BadRequest(w, err.Error())
	default:
		WriteJSONCreated(w, CreateDriveResponse{ID: id})
	}
}

// Delete handles DELETE /v1/drives/{id}.
func (h *DriveHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.RemoveDrive(r.Context(), chi.URLParam(r, "id")); err != nil {
		InternalServerError(w, err.Error())
		return
	}
	WriteNoContent(w)
}

// SetEnabled handles POST /v1/drives/{id}/enabled.
func (h *DriveHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req SetEnabledRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	err := h.manager.SetEnabled(r.Context(), chi.URLParam(r, "id"), req.Enabled)
	switch {
	case errors.Is(err, drive.ErrDriveNotFound):
		NotFound(w, "Drive not found")
	case err != nil:
		InternalServerError(w, err.Error())
	default:
		WriteNoContent(w)
	}
}
