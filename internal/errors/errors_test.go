// ABOUTME: Unit tests for admin API error responses
// ABOUTME: Validates response format, headers and deployment failure locations

package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		message string
	}{
		{"plugin not found", http.StatusNotFound, ErrPluginNotFound, "plugin Shop not found"},
		{"deploy in progress", http.StatusConflict, ErrConflict, "a deployment is already running"},
		{"internal error", http.StatusInternalServerError, ErrInternal, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.status, tt.code, tt.message)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Code != tt.code || resp.Message != tt.message || resp.Status != tt.status {
				t.Errorf("response = %+v", resp)
			}
			if resp.Details != "" || resp.Stage != "" || resp.Path != "" {
				t.Errorf("unexpected optional fields: %+v", resp)
			}
		})
	}
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorWithDetails(w, http.StatusUnprocessableEntity, ErrDependencyMissing, "cannot enable Shop", "Base, php-intl")

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Details != "Base, php-intl" {
		t.Errorf("expected details %q, got %q", "Base, php-intl", resp.Details)
	}
}

func TestWriteDeployError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteDeployError(w, "deploy failed", "linking-folder", "XMLView", "/srv/Plugins/Shop/Extension/XMLView/EditFoo.xml")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	want := map[string]string{
		"code":   ErrDeployFailed,
		"stage":  "linking-folder",
		"folder": "XMLView",
		"path":   "/srv/Plugins/Shop/Extension/XMLView/EditFoo.xml",
	}
	for k, v := range want {
		if resp[k] != v {
			t.Errorf("%s = %v, want %q", k, resp[k], v)
		}
	}
}

func TestErrorResponse_OmitsEmptyOptionalFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "Invalid")

	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if len(resp) != 3 {
		t.Errorf("expected only code, message and status, got %v", resp)
	}
}
