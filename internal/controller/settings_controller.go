package controller

import (
	"context"
	"net/http"

	"github.com/kitwatch/notifier/internal/domain/settings"
	"github.com/kitwatch/notifier/internal/service"
)

type SettingsManager interface {
	List(ctx context.Context) ([]*settings.Setting, error)
	Update(ctx context.Context, updates []service.SettingUpdate) ([]*settings.Setting, error)
}

type SettingsController struct {
	settings SettingsManager
}

func NewSettingsController(m SettingsManager) *SettingsController {
	return &SettingsController{settings: m}
}

// List handles GET /api/v1/settings
func (h *SettingsController) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if all == nil {
		all = []*settings.Setting{}
	}
	writeJSON(w, http.StatusOK, SettingsResponse{Settings: all})
}

// Update handles PUT /api/v1/settings. All keys are written or none are.
func (h *SettingsController) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	updates := make([]service.SettingUpdate, 0, len(req.Settings))
	for _, s := range req.Settings {
		updates = append(updates, service.SettingUpdate{Key: s.Key, Value: s.Value, Type: s.Type})
	}

	saved, err := h.settings.Update(r.Context(), updates)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{Settings: saved})
}
