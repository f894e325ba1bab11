package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"

	"dockwatch/internal/kube"
	pkgapi "dockwatch/pkg/api"
)

func testPod(name, namespace string, phase corev1.PodPhase, containers ...string) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			UID:       types.UID("uid-" + name),
		},
		Status: corev1.PodStatus{Phase: phase},
	}
	for _, c := range containers {
		pod.Spec.Containers = append(pod.Spec.Containers, corev1.Container{Name: c})
	}
	return pod
}

func TestListPods(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		testPod("web-abc", "default", corev1.PodRunning, "web", "sidecar"),
		testPod("job-xyz", "batch", corev1.PodSucceeded, "job"),
		testPod("crash-1", "default", corev1.PodFailed, "app"),
	)

	service := NewPodService(kube.NewClientForTesting(clientset), SuggestionConfig{})
	router := chi.NewRouter()
	service.AddRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pods", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var pods []pkgapi.Pod
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pods))
	require.Len(t, pods, 3)

	byName := map[string]pkgapi.Pod{}
	for _, p := range pods {
		assert.Equal(t, "pod", p.Type)
		byName[p.Name] = p
	}
	assert.Equal(t, "running", byName["web-abc"].Status)
	assert.Equal(t, []string{"web", "sidecar"}, byName["web-abc"].Containers)
	assert.Equal(t, "stopped", byName["job-xyz"].Status)
	assert.Equal(t, "failed", byName["crash-1"].Status)
	assert.Contains(t, byName["web-abc"].Config, `"name": "web-abc"`)
}

func TestListPodsNoCluster(t *testing.T) {
	service := NewPodService(nil, SuggestionConfig{})
	router := chi.NewRouter()
	service.AddRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pods", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var pods []pkgapi.Pod
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pods))
	assert.Empty(t, pods)
}
