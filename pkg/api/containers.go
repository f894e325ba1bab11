package api

type MetricPoint struct {
	Time  string  `json:"time"`
	Value float64 `json:"value"`
}

type Container struct {
	Type        string        `json:"type"` // always "container"
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      string        `json:"status"` // running, stopped, error, paused
	Health      string        `json:"health"` // healthy, unhealthy, not-enabled
	Image       string        `json:"image"`
	Engine      string        `json:"engine"` // docker, podman, rancher
	CPUUsage    []MetricPoint `json:"cpuUsage"`
	MemoryUsage []MetricPoint `json:"memoryUsage"`
	Logs        []string      `json:"logs"`
	Config      string        `json:"config"`
}

type ContainerActionRequest struct {
	Action string `json:"action"` // start, stop, restart, pause, unpause, delete
}

// SuggestionRequest optionally overrides the server's credential and
// model for one suggestions call.
type SuggestionRequest struct {
	APIKey string `json:"apiKey,omitempty"`
	Model  string `json:"model,omitempty"`
}

type Suggestion struct {
	Suggestions string `json:"suggestions"`
	Rationale   string `json:"rationale"`
}

type ContainerMetrics struct {
	Time          string  `json:"time"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
}

type Pod struct {
	Type       string   `json:"type"` // always "pod"
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Status     string   `json:"status"` // running, pending, stopped, failed
	Containers []string `json:"containers"`
	Config     string   `json:"config"`
}
