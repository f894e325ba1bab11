package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"dockwatch/internal/docker"
	"dockwatch/internal/kube"
	"dockwatch/internal/settings"
	"dockwatch/pkg/api"
)

const probeTimeout = 1500 * time.Millisecond

type SystemService struct {
	docker   *docker.Client
	kube     *kube.Client
	kubeErr  error
	settings *settings.Store
	dataDir  string

	actionsEnv bool
}

func NewSystemService(dockerClient *docker.Client, kubeClient *kube.Client, kubeErr error, store *settings.Store, dataDir string, actionsEnv bool) *SystemService {
	return &SystemService{
		docker:     dockerClient,
		kube:       kubeClient,
		kubeErr:    kubeErr,
		settings:   store,
		dataDir:    dataDir,
		actionsEnv: actionsEnv,
	}
}

func (s *SystemService) AddRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/env", RestHandler(s.GetEnv))
		r.Get("/health", s.GetHealth)
	})
}

func (s *SystemService) GetEnv(r *http.Request) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	dockerEnv := api.DockerEnv{Target: s.docker.Target()}
	if err := s.docker.Ping(ctx); err != nil {
		dockerEnv.Reason = err.Error()
	} else {
		dockerEnv.Available = true
	}

	kubeEnv := api.KubernetesEnv{Mode: "none"}
	if s.kube != nil {
		kubeEnv = api.KubernetesEnv{
			Available: true,
			Mode:      s.kube.Mode(),
			Context:   s.kube.Context(),
		}
	} else if s.kubeErr != nil {
		kubeEnv.Reason = s.kubeErr.Error()
	}

	return api.EnvResponse{
		Platform:       runtime.GOOS,
		Docker:         dockerEnv,
		Kubernetes:     kubeEnv,
		ActionsEnabled: s.actionsEnv || s.settings.Get().AllowContainerActions,
	}, nil
}

// GetHealth probes the pieces the dashboard depends on. A degraded
// report keeps the full body but answers 503 so load balancers can
// act on it.
func (s *SystemService) GetHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	services := map[string]string{}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	if err := s.docker.Ping(ctx); err != nil {
		services["docker"] = "unavailable: " + err.Error()
	} else {
		services["docker"] = "ok"
	}

	if info, err := os.Stat(s.dataDir); err != nil || !info.IsDir() {
		services["storage"] = "unavailable"
	} else {
		services["storage"] = "ok"
	}

	status := "healthy"
	for _, state := range services {
		if state != "ok" {
			status = "degraded"
		}
	}

	response := api.HealthResponse{
		Status:       status,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		ResponseTime: fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		Services:     services,
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}
