package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockwatch/internal/docker"
	"dockwatch/internal/settings"
	pkgapi "dockwatch/pkg/api"
)

// fakeEngine answers enough of the engine API for the service tests.
func fakeEngine(t *testing.T, mux *http.ServeMux) *docker.Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return docker.NewClient(server.URL)
}

func newContainerTestService(t *testing.T, client *docker.Client, actionsEnv bool, actionTimeout time.Duration) (*ContainerService, chi.Router, *settings.Store) {
	t.Helper()
	store := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	service := NewContainerService(client, store, SuggestionConfig{}, actionsEnv, actionTimeout)
	router := chi.NewRouter()
	service.AddRoutes(router)
	return service, router, store
}

func newContainerTestRouter(t *testing.T, client *docker.Client, actionsEnv bool, actionTimeout time.Duration) (chi.Router, *settings.Store) {
	t.Helper()
	_, router, store := newContainerTestService(t, client, actionsEnv, actionTimeout)
	return router, store
}

func TestListContainersEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/containers/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"Id":"aaa","Names":["/web"],"Image":"nginx:latest","State":"running","Status":"Up 2 hours (healthy)"},
			{"Id":"bbb","Names":["/db"],"Image":"postgres:16","State":"exited","Status":"Exited (0) 3 hours ago"},
			{"Id":"ccc","Names":["/worker"],"Image":"worker:dev","State":"dead","Status":"Dead"}
		]`))
	})
	mux.HandleFunc("/containers/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Id":"aaa","Name":"/web","State":{"Status":"running"},"Config":{"Image":"nginx:latest"}}`))
	})

	router, _ := newContainerTestRouter(t, fakeEngine(t, mux), false, time.Second)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var containers []pkgapi.Container
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&containers))
	require.Len(t, containers, 3)

	byID := map[string]pkgapi.Container{}
	for _, c := range containers {
		assert.Equal(t, "container", c.Type)
		byID[c.ID] = c
	}
	assert.Equal(t, "running", byID["aaa"].Status)
	assert.Equal(t, "healthy", byID["aaa"].Health)
	assert.Equal(t, "web", byID["aaa"].Name)
	assert.Equal(t, "stopped", byID["bbb"].Status)
	assert.Equal(t, "not-enabled", byID["bbb"].Health)
	assert.Equal(t, "error", byID["ccc"].Status)
}

func TestListContainersEngineDown(t *testing.T) {
	client := docker.NewClient("127.0.0.1:1") // nothing listens here
	router, _ := newContainerTestRouter(t, client, false, time.Second)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetContainerDetail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/containers/aaa/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Id":"aaa","Name":"/web","State":{"Status":"running","Health":{"Status":"unhealthy"}},"Config":{"Image":"nginx:latest","Tty":true}}`))
	})
	mux.HandleFunc("/containers/aaa/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"cpu_stats":{"cpu_usage":{"total_usage":400,"percpu_usage":[1,1]},"system_cpu_usage":2000},
			"precpu_stats":{"cpu_usage":{"total_usage":200},"system_cpu_usage":1000},
			"memory_stats":{"usage":256,"limit":1024}
		}`))
	})
	mux.HandleFunc("/containers/aaa/logs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("line one\nline two\n"))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Version":"4.9.3","Platform":{"Name":"Podman Engine"}}`))
	})

	router, _ := newContainerTestRouter(t, fakeEngine(t, mux), false, time.Second)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers/aaa", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var container pkgapi.Container
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&container))
	assert.Equal(t, "web", container.Name)
	assert.Equal(t, "unhealthy", container.Health)
	assert.Equal(t, "podman", container.Engine)
	assert.Equal(t, []string{"line one", "line two"}, container.Logs)
	require.Len(t, container.CPUUsage, metricPoints)
	require.Len(t, container.MemoryUsage, metricPoints)
	assert.InDelta(t, 40.0, container.CPUUsage[0].Value, 0.01)
	assert.InDelta(t, 25.0, container.MemoryUsage[0].Value, 0.01)
	assert.Contains(t, container.Config, "nginx:latest")
}

func TestGetContainerMetrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/containers/aaa/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"cpu_stats":{"cpu_usage":{"total_usage":400,"percpu_usage":[1,1]},"system_cpu_usage":2000},
			"precpu_stats":{"cpu_usage":{"total_usage":200},"system_cpu_usage":1000},
			"memory_stats":{"usage":512,"limit":1024}
		}`))
	})

	router, _ := newContainerTestRouter(t, fakeEngine(t, mux), false, time.Second)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers/aaa/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics pkgapi.ContainerMetrics
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&metrics))
	assert.InDelta(t, 40.0, metrics.CPUPercent, 0.01)
	assert.InDelta(t, 50.0, metrics.MemoryPercent, 0.01)
}

func TestContainerActionDisabled(t *testing.T) {
	router, _ := newContainerTestRouter(t, docker.NewClient("127.0.0.1:1"), false, time.Second)

	rec := postJSON(t, router, "/containers/aaa", pkgapi.ContainerActionRequest{Action: "start"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestContainerActionEnabledViaSettings(t *testing.T) {
	var started bool
	mux := http.NewServeMux()
	mux.HandleFunc("/containers/aaa/start", func(w http.ResponseWriter, r *http.Request) {
		started = true
		w.WriteHeader(http.StatusNoContent)
	})

	router, store := newContainerTestRouter(t, fakeEngine(t, mux), false, time.Second)
	enabled := true
	_, err := store.Apply(settings.Update{AllowContainerActions: &enabled})
	require.NoError(t, err)

	rec := postJSON(t, router, "/containers/aaa", pkgapi.ContainerActionRequest{Action: "start"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, started)
}

func TestContainerActionAlreadyInState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/containers/aaa/stop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	})

	router, _ := newContainerTestRouter(t, fakeEngine(t, mux), true, time.Second)

	rec := postJSON(t, router, "/containers/aaa", pkgapi.ContainerActionRequest{Action: "stop"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestContainerActionInvalid(t *testing.T) {
	router, _ := newContainerTestRouter(t, docker.NewClient("127.0.0.1:1"), true, time.Second)

	rec := postJSON(t, router, "/containers/aaa", pkgapi.ContainerActionRequest{Action: "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContainerActionTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/containers/aaa/restart", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	router, _ := newContainerTestRouter(t, fakeEngine(t, mux), true, 50*time.Millisecond)

	rec := postJSON(t, router, "/containers/aaa", pkgapi.ContainerActionRequest{Action: "restart"})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}
