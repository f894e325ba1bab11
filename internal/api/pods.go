package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	corev1 "k8s.io/api/core/v1"

	"dockwatch/internal/kube"
	"dockwatch/internal/llm"
	"dockwatch/pkg/api"
)

type PodService struct {
	// kube is nil when no cluster was configured at startup.
	kube        *kube.Client
	suggestions *suggestionClient
}

func NewPodService(client *kube.Client, suggestCfg SuggestionConfig) *PodService {
	return &PodService{kube: client, suggestions: newSuggestionClient(suggestCfg)}
}

func (s *PodService) AddRoutes(r chi.Router) {
	r.Route("/pods", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListPods))
		r.Post("/{pod_id}/suggestions", RestHandler(s.PodSuggestions))
	})
}

func mapPodStatus(phase corev1.PodPhase) string {
	switch phase {
	case corev1.PodRunning:
		return "running"
	case corev1.PodPending:
		return "pending"
	case corev1.PodFailed:
		return "failed"
	default:
		return "stopped"
	}
}

func podConfigJSON(pod corev1.Pod) string {
	pretty, err := json.MarshalIndent(pod, "", "  ")
	if err != nil {
		return ""
	}
	return string(pretty)
}

// PodSuggestions asks the model for resource-allocation advice based
// on the pod manifest. No per-pod usage series is collected here, so
// the usage slot is reported as N/A.
func (s *PodService) PodSuggestions(r *http.Request) (any, error) {
	id := chi.URLParam(r, "pod_id")
	if id == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {pod_id} url parameter")
	}

	req, err := ParseRequest[api.SuggestionRequest](r)
	if err != nil {
		return nil, err
	}

	if s.kube == nil {
		return nil, CodedErrorf(http.StatusNotFound, "pod %s not found", id)
	}
	pods, err := s.kube.ListPods(r.Context())
	if err != nil {
		return nil, CodedError(http.StatusBadGateway, err)
	}

	for _, pod := range pods {
		if string(pod.UID) == id {
			return s.suggestions.suggest(r.Context(), req, llm.SuggestInput{
				PodConfig: podConfigJSON(pod),
				Usage:     "N/A",
			}), nil
		}
	}
	return nil, CodedErrorf(http.StatusNotFound, "pod %s not found", id)
}

func (s *PodService) ListPods(r *http.Request) (any, error) {
	if s.kube == nil {
		// No cluster configured is not an error for the dashboard.
		return []api.Pod{}, nil
	}

	pods, err := s.kube.ListPods(r.Context())
	if err != nil {
		return nil, CodedError(http.StatusBadGateway, err)
	}

	out := make([]api.Pod, 0, len(pods))
	for _, pod := range pods {
		containers := make([]string, 0, len(pod.Spec.Containers))
		for _, c := range pod.Spec.Containers {
			containers = append(containers, c.Name)
		}
		out = append(out, api.Pod{
			Type:       "pod",
			ID:         string(pod.UID),
			Name:       pod.Name,
			Status:     mapPodStatus(pod.Status.Phase),
			Containers: containers,
			Config:     podConfigJSON(pod),
		})
	}
	return out, nil
}
