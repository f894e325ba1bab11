package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dockwatch/internal/settings"
)

type SettingsService struct {
	store *settings.Store
}

func NewSettingsService(store *settings.Store) *SettingsService {
	return &SettingsService{store: store}
}

func (s *SettingsService) AddRoutes(r chi.Router) {
	r.Get("/settings", RestHandler(s.GetSettings))
	r.Put("/settings", RestHandler(s.UpdateSettings))
}

func (s *SettingsService) GetSettings(r *http.Request) (any, error) {
	return s.store.Get(), nil
}

func (s *SettingsService) UpdateSettings(r *http.Request) (any, error) {
	update, err := ParseRequest[settings.Update](r)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Apply(update)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	return updated, nil
}
