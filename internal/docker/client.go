// Package docker is a thin client for the Docker Engine REST API,
// covering the calls the dashboard needs: list, inspect, stats, logs,
// version/ping, and lifecycle actions. It talks to the local socket by
// default and honors DOCKER_HOST style tcp addresses.
package docker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

const defaultSocket = "/var/run/docker.sock"

type Client struct {
	client *resty.Client
	target string
}

// NewClient connects to the engine at host: "" or "unix://..." for a
// local socket, "tcp://addr:port" (or a bare host:port) for a remote
// daemon.
func NewClient(host string) *Client {
	socket := defaultSocket
	switch {
	case host == "":
	case strings.HasPrefix(host, "unix://"):
		socket = strings.TrimPrefix(host, "unix://")
	case strings.HasPrefix(host, "tcp://"):
		return newTCPClient("http://"+strings.TrimPrefix(host, "tcp://"), host)
	case strings.HasPrefix(host, "http://"), strings.HasPrefix(host, "https://"):
		return newTCPClient(host, host)
	default:
		return newTCPClient("http://"+host, host)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "unix", socket)
		},
	}
	return &Client{
		client: resty.New().SetTransport(transport).SetBaseURL("http://docker"),
		target: socket,
	}
}

func newTCPClient(baseURL, target string) *Client {
	return &Client{client: resty.New().SetBaseURL(baseURL), target: target}
}

// Target returns the socket path or address the client talks to.
func (c *Client) Target() string { return c.target }

type apiError struct {
	Message string `json:"message"`
}

func (c *Client) statusError(res *resty.Response) error {
	var apiErr apiError
	if err := json.Unmarshal(res.Body(), &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("docker engine: %s", apiErr.Message)
	}
	return fmt.Errorf("docker engine returned status %s", res.Status())
}

type ContainerSummary struct {
	ID     string   `json:"Id"`
	Names  []string `json:"Names"`
	Image  string   `json:"Image"`
	State  string   `json:"State"`
	Status string   `json:"Status"`
}

// Name strips the leading slash the engine puts on container names.
func (s ContainerSummary) Name() string {
	if len(s.Names) > 0 {
		return strings.TrimPrefix(s.Names[0], "/")
	}
	return s.ID
}

func (c *Client) ListContainers(ctx context.Context, all bool) ([]ContainerSummary, error) {
	var containers []ContainerSummary
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("all", strconv.FormatBool(all)).
		SetResult(&containers).
		Get("/containers/json")
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	if !res.IsSuccess() {
		return nil, c.statusError(res)
	}
	return containers, nil
}

type InspectState struct {
	Status string `json:"Status"`
	Health *struct {
		Status string `json:"Status"`
	} `json:"Health"`
}

type Inspect struct {
	ID     string          `json:"Id"`
	Name   string          `json:"Name"`
	State  InspectState    `json:"State"`
	Config json.RawMessage `json:"Config"`
}

type containerConfig struct {
	Image string `json:"Image"`
	Tty   bool   `json:"Tty"`
}

// Image returns the image the container was created from.
func (i Inspect) Image() string {
	var cfg containerConfig
	json.Unmarshal(i.Config, &cfg) //nolint:errcheck
	return cfg.Image
}

// Tty reports whether the container runs with a TTY, which decides the
// log stream framing.
func (i Inspect) Tty() bool {
	var cfg containerConfig
	json.Unmarshal(i.Config, &cfg) //nolint:errcheck
	return cfg.Tty
}

// ConfigJSON pretty-prints the container config for display.
func (i Inspect) ConfigJSON() string {
	var out map[string]any
	if err := json.Unmarshal(i.Config, &out); err != nil {
		return string(i.Config)
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return string(i.Config)
	}
	return string(pretty)
}

func (c *Client) InspectContainer(ctx context.Context, id string) (Inspect, error) {
	var inspect Inspect
	res, err := c.client.R().
		SetContext(ctx).
		SetResult(&inspect).
		Get("/containers/" + id + "/json")
	if err != nil {
		return Inspect{}, fmt.Errorf("inspecting container %s: %w", id, err)
	}
	if !res.IsSuccess() {
		return Inspect{}, c.statusError(res)
	}
	return inspect, nil
}

type cpuUsage struct {
	TotalUsage  uint64   `json:"total_usage"`
	PercpuUsage []uint64 `json:"percpu_usage"`
}

type cpuStats struct {
	CPUUsage       cpuUsage `json:"cpu_usage"`
	SystemCPUUsage uint64   `json:"system_cpu_usage"`
}

type Stats struct {
	CPUStats    cpuStats `json:"cpu_stats"`
	PreCPUStats cpuStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
}

// CPUPercent computes CPU usage from the deltas of a one-shot stats
// sample, scaled by the core count.
func (s Stats) CPUPercent() float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemCPUUsage) - float64(s.PreCPUStats.SystemCPUUsage)
	if systemDelta <= 0 {
		return 0
	}
	cores := len(s.CPUStats.CPUUsage.PercpuUsage)
	if cores == 0 {
		cores = 1
	}
	return cpuDelta / systemDelta * float64(cores) * 100
}

func (s Stats) MemoryPercent() float64 {
	if s.MemoryStats.Usage == 0 || s.MemoryStats.Limit == 0 {
		return 0
	}
	return float64(s.MemoryStats.Usage) / float64(s.MemoryStats.Limit) * 100
}

func (c *Client) ContainerStats(ctx context.Context, id string) (Stats, error) {
	var stats Stats
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("stream", "false").
		SetResult(&stats).
		Get("/containers/" + id + "/stats")
	if err != nil {
		return Stats{}, fmt.Errorf("reading container stats %s: %w", id, err)
	}
	if !res.IsSuccess() {
		return Stats{}, c.statusError(res)
	}
	return stats, nil
}

// ContainerLogs returns the last tail lines of combined stdout/stderr.
// Non-TTY containers multiplex both streams behind 8-byte frame
// headers, which are stripped here.
func (c *Client) ContainerLogs(ctx context.Context, id string, tail int) ([]string, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"stdout": "true",
			"stderr": "true",
			"tail":   strconv.Itoa(tail),
		}).
		Get("/containers/" + id + "/logs")
	if err != nil {
		return nil, fmt.Errorf("reading container logs %s: %w", id, err)
	}
	if !res.IsSuccess() {
		return nil, c.statusError(res)
	}

	text := string(demultiplex(res.Body()))
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(text, "\n"), nil
}

// demultiplex strips the stream framing from a docker log payload.
// Each frame is [stream, 0, 0, 0, len×4 big-endian, payload]. TTY
// containers send raw bytes instead; those are detected and passed
// through.
func demultiplex(raw []byte) []byte {
	if len(raw) < 8 || raw[0] > 2 || raw[1] != 0 || raw[2] != 0 || raw[3] != 0 {
		return raw
	}

	var out []byte
	for len(raw) >= 8 {
		size := binary.BigEndian.Uint32(raw[4:8])
		raw = raw[8:]
		if uint32(len(raw)) < size {
			out = append(out, raw...)
			break
		}
		out = append(out, raw[:size]...)
		raw = raw[size:]
	}
	return out
}

type Version struct {
	Version  string `json:"Version"`
	Platform struct {
		Name string `json:"Name"`
	} `json:"Platform"`
}

// EngineName classifies the daemon flavor from its platform string.
func (v Version) EngineName() string {
	name := strings.ToLower(v.Platform.Name)
	switch {
	case strings.Contains(name, "rancher"):
		return "rancher"
	case strings.Contains(name, "podman"):
		return "podman"
	default:
		return "docker"
	}
}

func (c *Client) ServerVersion(ctx context.Context) (Version, error) {
	var version Version
	res, err := c.client.R().
		SetContext(ctx).
		SetResult(&version).
		Get("/version")
	if err != nil {
		return Version{}, fmt.Errorf("reading engine version: %w", err)
	}
	if !res.IsSuccess() {
		return Version{}, c.statusError(res)
	}
	return version, nil
}

func (c *Client) Ping(ctx context.Context) error {
	res, err := c.client.R().SetContext(ctx).Get("/_ping")
	if err != nil {
		return fmt.Errorf("pinging docker engine: %w", err)
	}
	if !res.IsSuccess() {
		return c.statusError(res)
	}
	return nil
}

// Lifecycle actions. The engine answers 304 when a container is
// already in the requested state; that is treated as success.

func (c *Client) post(ctx context.Context, path string) error {
	res, err := c.client.R().SetContext(ctx).Post(path)
	if err != nil {
		return err
	}
	if !res.IsSuccess() && res.StatusCode() != http.StatusNotModified {
		return c.statusError(res)
	}
	return nil
}

func (c *Client) StartContainer(ctx context.Context, id string) error {
	return c.post(ctx, "/containers/"+id+"/start")
}

func (c *Client) StopContainer(ctx context.Context, id string) error {
	return c.post(ctx, "/containers/"+id+"/stop")
}

func (c *Client) RestartContainer(ctx context.Context, id string) error {
	return c.post(ctx, "/containers/"+id+"/restart")
}

func (c *Client) PauseContainer(ctx context.Context, id string) error {
	return c.post(ctx, "/containers/"+id+"/pause")
}

func (c *Client) UnpauseContainer(ctx context.Context, id string) error {
	return c.post(ctx, "/containers/"+id+"/unpause")
}

func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("force", "true").
		Delete("/containers/" + id)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return c.statusError(res)
	}
	return nil
}
