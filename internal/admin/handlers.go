// ABOUTME: JSON admin API for triggering deployments and managing plugins.
// ABOUTME: Lists plugins, pages and deploy history; concurrent deploys are refused with 409.

package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389/dinamic/internal/deploy"
	apierrors "github.com/2389/dinamic/internal/errors"
	"github.com/2389/dinamic/internal/plugin"
	"github.com/2389/dinamic/internal/store"
)

const defaultHistoryLimit = 20

// PluginService is the plugin manager as seen by the admin API.
type PluginService interface {
	List() ([]*plugin.Descriptor, error)
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	Update(ctx context.Context, name string) error
	Deploy(ctx context.Context, clean bool) error
}

// Registry is the read side of the store used by the admin API.
type Registry interface {
	ListPages() ([]*store.Page, error)
	SearchPages(prefix string) ([]*store.Page, error)
	ListDeployRuns(limit int) ([]*store.DeployRun, error)
}

type Handlers struct {
	plugins  PluginService
	registry Registry
}

func NewHandlers(plugins PluginService, registry Registry) *Handlers {
	return &Handlers{plugins: plugins, registry: registry}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/plugins", h.pluginList)
		r.Post("/plugins/{name}/enable", h.pluginEnable)
		r.Post("/plugins/{name}/disable", h.pluginDisable)
		r.Post("/plugins/{name}/update", h.pluginUpdate)
		r.Post("/deploy", h.deploy)
		r.Get("/pages", h.pageList)
		r.Get("/deploys", h.deployList)
	})
}

// pluginView is the JSON shape of a plugin.
type pluginView struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description,omitempty"`
	Version               float64  `json:"version"`
	MinCoreVersion        float64  `json:"min_version"`
	MinPHPVersion         float64  `json:"min_php"`
	RequiredPlugins       []string `json:"require,omitempty"`
	RequiredPHPExtensions []string `json:"require_php,omitempty"`
	Enabled               bool     `json:"enabled"`
	Order                 int      `json:"order"`
	Compatible            bool     `json:"compatible"`
	CompatibilityReason   string   `json:"compatibility_reason,omitempty"`
	ManifestError         string   `json:"manifest_error,omitempty"`
}

func newPluginView(d *plugin.Descriptor) pluginView {
	v := pluginView{
		Name:                  d.Name,
		Description:           d.Description,
		Version:               d.Version,
		MinCoreVersion:        d.MinCoreVersion,
		MinPHPVersion:         d.MinPHPVersion,
		RequiredPlugins:       d.RequiredPlugins,
		RequiredPHPExtensions: d.RequiredPHPExtensions,
		Enabled:               d.Enabled,
		Order:                 d.Order,
		Compatible:            d.Compatible,
		CompatibilityReason:   d.CompatibilityReason,
	}
	if d.LoadErr != nil {
		v.ManifestError = d.LoadErr.Error()
	}
	return v
}

func (h *Handlers) pluginList(w http.ResponseWriter, r *http.Request) {
	plugins, err := h.plugins.List()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]pluginView, 0, len(plugins))
	for _, d := range plugins {
		views = append(views, newPluginView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": views})
}

func (h *Handlers) pluginEnable(w http.ResponseWriter, r *http.Request) {
	h.pluginAction(w, r, "enabled", h.plugins.Enable)
}

func (h *Handlers) pluginDisable(w http.ResponseWriter, r *http.Request) {
	h.pluginAction(w, r, "disabled", h.plugins.Disable)
}

func (h *Handlers) pluginUpdate(w http.ResponseWriter, r *http.Request) {
	h.pluginAction(w, r, "updated", h.plugins.Update)
}

func (h *Handlers) pluginAction(w http.ResponseWriter, r *http.Request, done string, action func(context.Context, string) error) {
	name := chi.URLParam(r, "name")
	if err := action(r.Context(), name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugin": name, "status": done})
}

func (h *Handlers) deploy(w http.ResponseWriter, r *http.Request) {
	clean := true
	if v := r.URL.Query().Get("clean"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "clean must be true or false")
			return
		}
		clean = parsed
	}

	if err := h.plugins.Deploy(r.Context(), clean); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deployed", "clean": clean})
}

func (h *Handlers) pageList(w http.ResponseWriter, r *http.Request) {
	var pages []*store.Page
	var err error
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		pages, err = h.registry.SearchPages(prefix)
	} else {
		pages, err = h.registry.ListPages()
	}
	if err != nil {
		log.Printf("Failed to list pages: %v", err)
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "failed to list pages")
		return
	}
	if pages == nil {
		pages = []*store.Page{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (h *Handlers) deployList(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.registry.ListDeployRuns(limit)
	if err != nil {
		log.Printf("Failed to list deploy runs: %v", err)
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "failed to list deploy runs")
		return
	}
	if runs == nil {
		runs = []*store.DeployRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deploys": runs})
}

// writeServiceError maps plugin manager and deployment errors to responses.
func writeServiceError(w http.ResponseWriter, err error) {
	var derr *deploy.Error
	switch {
	case errors.As(err, &derr):
		apierrors.WriteDeployError(w, err.Error(), derr.Stage.String(), derr.Folder, derr.Path)
	case errors.Is(err, plugin.ErrPluginNotFound):
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrPluginNotFound, err.Error())
	case errors.Is(err, plugin.ErrInvalidName):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidName, err.Error())
	case errors.Is(err, plugin.ErrDependencyMissing):
		msg, details, _ := strings.Cut(err.Error(), ": ")
		apierrors.WriteErrorWithDetails(w, http.StatusUnprocessableEntity, apierrors.ErrDependencyMissing, msg, details)
	case errors.Is(err, plugin.ErrRequiredByOthers):
		apierrors.WriteError(w, http.StatusConflict, apierrors.ErrRequiredByOthers, err.Error())
	case errors.Is(err, plugin.ErrPluginEnabled):
		apierrors.WriteError(w, http.StatusConflict, apierrors.ErrPluginEnabled, err.Error())
	case errors.Is(err, plugin.ErrPluginDisabled):
		apierrors.WriteError(w, http.StatusConflict, apierrors.ErrPluginDisabled, err.Error())
	case errors.Is(err, plugin.ErrDeployInProgress):
		apierrors.WriteError(w, http.StatusConflict, apierrors.ErrConflict, err.Error())
	case errors.Is(err, plugin.ErrHookFailed):
		log.Printf("Plugin hook failed: %v", err)
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrHookFailed, err.Error())
	default:
		log.Printf("Admin request failed: %v", err)
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
