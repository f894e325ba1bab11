package api

type DockerEnv struct {
	Available bool   `json:"available"`
	Target    string `json:"target"`
	Reason    string `json:"reason,omitempty"`
}

type KubernetesEnv struct {
	Available bool   `json:"available"`
	Mode      string `json:"mode"` // cluster, kubeconfig, none
	Context   string `json:"context,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type EnvResponse struct {
	Platform       string        `json:"platform"`
	Docker         DockerEnv     `json:"docker"`
	Kubernetes     KubernetesEnv `json:"kubernetes"`
	ActionsEnabled bool          `json:"actionsEnabled"`
}

type HealthResponse struct {
	Status       string            `json:"status"` // healthy, degraded
	Timestamp    string            `json:"timestamp"`
	ResponseTime string            `json:"responseTime"`
	Services     map[string]string `json:"services"`
}
