// ABOUTME: JSON error responses for the admin API.
// ABOUTME: Deployment failures carry the stage, folder and path so operators can inspect plugin contents.

package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the error body every admin endpoint returns.
//
// Usage:
//
//	WriteError(w, http.StatusNotFound, ErrPluginNotFound, "plugin Shop not found")
type ErrorResponse struct {
	Code    string `json:"code"`              // Machine-readable error code
	Message string `json:"message"`           // Human-readable error message
	Status  int    `json:"status"`            // HTTP status code
	Details string `json:"details,omitempty"` // Optional: additional context

	// Set only for failed deployments
	Stage  string `json:"stage,omitempty"`
	Folder string `json:"folder,omitempty"`
	Path   string `json:"path,omitempty"`
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
	})
}

// WriteErrorWithDetails writes an error response with additional details,
// e.g. the list of missing plugin dependencies.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message, details string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
		Details: details,
	})
}

// WriteDeployError reports a failed deployment with the location of the failure.
func WriteDeployError(w http.ResponseWriter, message, stage, folder, path string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    ErrDeployFailed,
		Message: message,
		Status:  http.StatusInternalServerError,
		Stage:   stage,
		Folder:  folder,
		Path:    path,
	})
}

func writeErrorResponse(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp)
}

// Error codes returned by the admin API
const (
	// Client errors (4xx)
	ErrInvalidRequest    = "invalid_request"
	ErrNotFound          = "not_found"
	ErrPluginNotFound    = "plugin_not_found"
	ErrInvalidName       = "invalid_plugin_name"
	ErrDependencyMissing = "dependency_missing"
	ErrRequiredByOthers  = "required_by_other_plugins"
	ErrPluginEnabled     = "plugin_enabled"
	ErrPluginDisabled    = "plugin_disabled"
	ErrConflict          = "conflict"

	// Server errors (5xx)
	ErrInternal      = "internal_error"
	ErrDatabaseError = "database_error"
	ErrDeployFailed  = "deploy_failed"
	ErrHookFailed    = "hook_failed"
)
