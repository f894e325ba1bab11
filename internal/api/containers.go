package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"dockwatch/internal/docker"
	"dockwatch/internal/llm"
	"dockwatch/internal/settings"
	"dockwatch/pkg/api"
)

const (
	// metricPoints is how many samples the usage series carries; the
	// one-shot stats sample is fanned out across them so the UI chart
	// has something to draw.
	metricPoints = 5

	inspectConcurrency = 8
)

type ContainerService struct {
	docker      *docker.Client
	settings    *settings.Store
	suggestions *suggestionClient

	// actionsEnv force-enables lifecycle actions regardless of the
	// stored settings.
	actionsEnv    bool
	actionTimeout time.Duration
}

func NewContainerService(client *docker.Client, store *settings.Store, suggestCfg SuggestionConfig, actionsEnv bool, actionTimeout time.Duration) *ContainerService {
	return &ContainerService{
		docker:        client,
		settings:      store,
		suggestions:   newSuggestionClient(suggestCfg),
		actionsEnv:    actionsEnv,
		actionTimeout: actionTimeout,
	}
}

func (s *ContainerService) AddRoutes(r chi.Router) {
	r.Route("/containers", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListContainers))
		r.Get("/{container_id}", RestHandler(s.GetContainer))
		r.Post("/{container_id}", RestHandler(s.ContainerAction))
		r.Get("/{container_id}/metrics", RestHandler(s.GetContainerMetrics))
		r.Post("/{container_id}/suggestions", RestHandler(s.ContainerSuggestions))
	})
}

func (s *ContainerService) actionsEnabled() bool {
	return s.actionsEnv || s.settings.Get().AllowContainerActions
}

func mapContainerStatus(state string) string {
	switch state {
	case "running":
		return "running"
	case "paused":
		return "paused"
	case "dead":
		return "error"
	default:
		return "stopped"
	}
}

func mapSummaryHealth(status string) string {
	switch {
	case strings.Contains(status, "(unhealthy)"):
		return "unhealthy"
	case strings.Contains(status, "(healthy)"):
		return "healthy"
	default:
		return "not-enabled"
	}
}

type ListContainersQuery struct {
	All *bool `schema:"all"`
}

func (s *ContainerService) ListContainers(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[ListContainersQuery](r)
	if err != nil {
		return nil, err
	}
	all := true
	if query.All != nil {
		all = *query.All
	}

	summaries, err := s.docker.ListContainers(r.Context(), all)
	if err != nil {
		return nil, CodedError(http.StatusBadGateway, err)
	}

	containers := make([]api.Container, len(summaries))
	group, ctx := errgroup.WithContext(r.Context())
	group.SetLimit(inspectConcurrency)
	for i, summary := range summaries {
		group.Go(func() error {
			// Config is decoration; a failed inspect leaves it empty.
			config := ""
			if inspect, err := s.docker.InspectContainer(ctx, summary.ID); err == nil {
				config = inspect.ConfigJSON()
			}
			containers[i] = api.Container{
				Type:        "container",
				ID:          summary.ID,
				Name:        summary.Name(),
				Status:      mapContainerStatus(summary.State),
				Health:      mapSummaryHealth(summary.Status),
				Image:       summary.Image,
				Engine:      "docker",
				CPUUsage:    []api.MetricPoint{},
				MemoryUsage: []api.MetricPoint{},
				Logs:        []string{},
				Config:      config,
			}
			return nil
		})
	}
	group.Wait() //nolint:errcheck

	return containers, nil
}

func usageSeries(now time.Time, value float64) []api.MetricPoint {
	points := make([]api.MetricPoint, 0, metricPoints)
	for i := 0; i < metricPoints; i++ {
		points = append(points, api.MetricPoint{
			Time:  now.Add(-time.Duration(metricPoints-1-i) * time.Minute).UTC().Format(time.RFC3339),
			Value: round2(value),
		})
	}
	return points
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func (s *ContainerService) GetContainer(r *http.Request) (any, error) {
	id := chi.URLParam(r, "container_id")
	if id == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {container_id} url parameter")
	}

	inspect, err := s.docker.InspectContainer(r.Context(), id)
	if err != nil {
		return nil, CodedError(http.StatusBadGateway, err)
	}

	// Stats, logs, and version enrich the answer but are not worth
	// failing it over.
	var stats docker.Stats
	var logs []string
	engine := "docker"
	group, ctx := errgroup.WithContext(r.Context())
	group.Go(func() error {
		if got, err := s.docker.ContainerStats(ctx, id); err == nil {
			stats = got
		}
		return nil
	})
	group.Go(func() error {
		if got, err := s.docker.ContainerLogs(ctx, id, 100); err == nil {
			logs = got
		}
		return nil
	})
	group.Go(func() error {
		if version, err := s.docker.ServerVersion(ctx); err == nil {
			engine = version.EngineName()
		}
		return nil
	})
	group.Wait() //nolint:errcheck

	health := "not-enabled"
	if inspect.State.Health != nil {
		switch inspect.State.Health.Status {
		case "healthy":
			health = "healthy"
		case "unhealthy":
			health = "unhealthy"
		}
	}

	now := time.Now()
	return api.Container{
		Type:        "container",
		ID:          inspect.ID,
		Name:        strings.TrimPrefix(inspect.Name, "/"),
		Status:      mapContainerStatus(inspect.State.Status),
		Health:      health,
		Image:       inspect.Image(),
		Engine:      engine,
		CPUUsage:    usageSeries(now, stats.CPUPercent()),
		MemoryUsage: usageSeries(now, stats.MemoryPercent()),
		Logs:        logs,
		Config:      inspect.ConfigJSON(),
	}, nil
}

func (s *ContainerService) GetContainerMetrics(r *http.Request) (any, error) {
	id := chi.URLParam(r, "container_id")
	if id == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {container_id} url parameter")
	}

	stats, err := s.docker.ContainerStats(r.Context(), id)
	if err != nil {
		return nil, CodedError(http.StatusBadGateway, err)
	}

	return api.ContainerMetrics{
		Time:          time.Now().UTC().Format(time.RFC3339),
		CPUPercent:    round2(stats.CPUPercent()),
		MemoryPercent: round2(stats.MemoryPercent()),
	}, nil
}

// ContainerSuggestions asks the model for resource-allocation advice
// based on the container's config and a current usage sample.
func (s *ContainerService) ContainerSuggestions(r *http.Request) (any, error) {
	id := chi.URLParam(r, "container_id")
	if id == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {container_id} url parameter")
	}

	req, err := ParseRequest[api.SuggestionRequest](r)
	if err != nil {
		return nil, err
	}

	inspect, err := s.docker.InspectContainer(r.Context(), id)
	if err != nil {
		return nil, CodedError(http.StatusBadGateway, err)
	}

	var stats docker.Stats
	if got, err := s.docker.ContainerStats(r.Context(), id); err == nil {
		stats = got
	}
	now := time.Now()

	return s.suggestions.suggest(r.Context(), req, llm.SuggestInput{
		ContainerConfig: inspect.ConfigJSON(),
		Usage: usageSummary(
			usageSeries(now, stats.CPUPercent()),
			usageSeries(now, stats.MemoryPercent()),
		),
	}), nil
}

func (s *ContainerService) ContainerAction(r *http.Request) (any, error) {
	id := chi.URLParam(r, "container_id")
	if id == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {container_id} url parameter")
	}

	req, err := ParseRequest[api.ContainerActionRequest](r)
	if err != nil {
		return nil, err
	}

	if !s.actionsEnabled() {
		return nil, CodedErrorf(http.StatusForbidden, "container actions are disabled")
	}

	// Lifecycle calls get their own deadline so a wedged daemon cannot
	// hold the request open indefinitely.
	ctx, cancel := context.WithTimeout(r.Context(), s.actionTimeout)
	defer cancel()

	switch req.Action {
	case "start":
		err = s.docker.StartContainer(ctx, id)
	case "stop":
		err = s.docker.StopContainer(ctx, id)
	case "restart":
		err = s.docker.RestartContainer(ctx, id)
	case "pause":
		err = s.docker.PauseContainer(ctx, id)
	case "unpause":
		err = s.docker.UnpauseContainer(ctx, id)
	case "delete":
		err = s.docker.RemoveContainer(ctx, id)
	default:
		return nil, CodedErrorf(http.StatusBadRequest, "invalid action %q", req.Action)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, CodedErrorf(http.StatusGatewayTimeout, "action %q on container %s timed out after %s", req.Action, id, s.actionTimeout)
		}
		return nil, CodedError(http.StatusBadGateway, err)
	}

	return api.SuccessResponse{Success: true}, nil
}
