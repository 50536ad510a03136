// Package device is an HTTP/JSON client for the local print-preparation
// automation API. Scenes are server-side stateful sessions addressed by
// ID; transform endpoints can run asynchronously and return operation
// IDs which are polled to completion.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/micromdm/nanolib/log"
)

// DefaultBaseURL is the default device-control API endpoint.
// One local endpoint per deployment is assumed.
const DefaultBaseURL = "http://localhost:44388"

// APIError is an explicit error payload returned by the device-control
// server. The detail is passed through unmodified.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("device API error %d: %s", e.StatusCode, e.Detail)
}

// SceneSettings are the print settings a scene is created with.
type SceneSettings struct {
	PrinterType   string  `json:"machine_type"`
	MaterialCode  string  `json:"material_code"`
	LayerHeightMM float64 `json:"layer_thickness_mm"`
}

// Scene is the server's representation of a scene resource.
type Scene struct {
	ID         string          `json:"id"`
	ModelCount int             `json:"model_count"`
	Settings   json.RawMessage `json:"settings,omitempty"`
}

// Client talks to a single device-control API endpoint.
type Client struct {
	baseURL string
	client  *http.Client
	logger  log.Logger

	pollInterval time.Duration
	pollMax      time.Duration
	pollCeiling  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithClient sets the underlying HTTP client.
func WithClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the client logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPollTiming configures the operation poll loop: the starting
// interval, the backoff cap, and the hard ceiling after which polling
// stops and the operation is considered timed out.
func WithPollTiming(interval, max, ceiling time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.pollMax = max
		c.pollCeiling = ceiling
	}
}

// New creates a new device-control API client.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 3 * time.Minute},
		logger:       log.NopLogger,
		pollInterval: DefaultPollInterval,
		pollMax:      DefaultPollMax,
		pollCeiling:  DefaultPollCeiling,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs an HTTP request and decodes a JSON response into out.
// Non-2xx responses are returned as an *APIError carrying the server's
// payload verbatim.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request for %s: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Detail: string(detail)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request for %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	return c.do(ctx, method, path, body, "application/json", out)
}

// CreateScene creates a new scene and returns its ID.
func (c *Client) CreateScene(ctx context.Context, settings SceneSettings) (string, error) {
	payload := struct {
		SceneSettings
		PrintSetting string `json:"print_setting"`
	}{
		SceneSettings: settings,
		PrintSetting:  fmt.Sprintf("%s_%g", settings.MaterialCode, settings.LayerHeightMM),
	}
	var scene Scene
	if err := c.doJSON(ctx, "POST", "/scene/", &payload, &scene); err != nil {
		return "", err
	}
	return scene.ID, nil
}

// GetScene retrieves scene information.
func (c *Client) GetScene(ctx context.Context, sceneID string) (*Scene, error) {
	scene := new(Scene)
	if err := c.doJSON(ctx, "GET", "/scene/"+url.PathEscape(sceneID)+"/", nil, scene); err != nil {
		return nil, err
	}
	return scene, nil
}

// DeleteScene deletes a scene from the server's scene cache.
func (c *Client) DeleteScene(ctx context.Context, sceneID string) error {
	return c.doJSON(ctx, "DELETE", "/scene/"+url.PathEscape(sceneID)+"/", nil, nil)
}

// ImportOptions control model import behavior.
type ImportOptions struct {
	AutoOrient bool
	Repair     bool
}

// ImportModel uploads a model file into a scene. Importing the same
// model again adds another model instance; the server does not
// deduplicate.
func (c *Client) ImportModel(ctx context.Context, sceneID, filename string, model io.Reader, opts ImportOptions) error {
	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err = io.Copy(fw, model); err != nil {
		return fmt.Errorf("copying model data: %w", err)
	}
	if opts.AutoOrient {
		mw.WriteField("auto_orient", "true")
	}
	if opts.Repair {
		mw.WriteField("repair", "true")
	}
	if err = mw.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}
	return c.do(ctx, "POST", "/scene/"+url.PathEscape(sceneID)+"/import-model/", buf, mw.FormDataContentType(), nil)
}

// DuplicateModel duplicates models in a scene. An empty modelID
// duplicates every model.
func (c *Client) DuplicateModel(ctx context.Context, sceneID string, count int, modelID string) error {
	payload := map[string]interface{}{"count": count}
	if modelID != "" {
		payload["model_id"] = modelID
	}
	return c.doJSON(ctx, "POST", "/scene/"+url.PathEscape(sceneID)+"/duplicate-model/", payload, nil)
}

// transform submits a transform endpoint with the async flag set and
// returns the server-assigned operation ID.
func (c *Client) transform(ctx context.Context, sceneID, endpoint string, payload map[string]interface{}) (string, error) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["async"] = true
	var resp struct {
		OperationID string `json:"operationId"`
	}
	path := "/scene/" + url.PathEscape(sceneID) + "/" + endpoint + "/"
	if err := c.doJSON(ctx, "POST", path, payload, &resp); err != nil {
		return "", err
	}
	if resp.OperationID == "" {
		return "", fmt.Errorf("no operation ID in %s response", endpoint)
	}
	return resp.OperationID, nil
}

// AutoOrient submits asynchronous model auto-orientation.
func (c *Client) AutoOrient(ctx context.Context, sceneID string) (string, error) {
	return c.transform(ctx, sceneID, "auto-orient", nil)
}

// AutoSupport submits asynchronous support generation.
func (c *Client) AutoSupport(ctx context.Context, sceneID, mode string) (string, error) {
	if mode == "" {
		mode = "auto-v2"
	}
	return c.transform(ctx, sceneID, "auto-support", map[string]interface{}{"mode": mode})
}

// AutoLayout submits asynchronous build-plate layout.
func (c *Client) AutoLayout(ctx context.Context, sceneID string) (string, error) {
	return c.transform(ctx, sceneID, "auto-layout", nil)
}

// Slice submits asynchronous slicing.
func (c *Client) Slice(ctx context.Context, sceneID string) (string, error) {
	return c.transform(ctx, sceneID, "slice", nil)
}

// Screenshot generates a preview screenshot of the scene.
func (c *Client) Screenshot(ctx context.Context, sceneID string) error {
	return c.doJSON(ctx, "POST", "/scene/"+url.PathEscape(sceneID)+"/screenshot/", nil, nil)
}

// PrintScene dispatches a sliced scene to a printer.
func (c *Client) PrintScene(ctx context.Context, sceneID, printerID, jobName string) error {
	payload := map[string]interface{}{"scene_id": sceneID}
	if printerID != "" {
		payload["printer_id"] = printerID
	}
	if jobName != "" {
		payload["job_name"] = jobName
	}
	return c.doJSON(ctx, "POST", "/print/", payload, nil)
}

// RemotePrintScene dispatches a sliced scene to a fleet printer group
// queue.
func (c *Client) RemotePrintScene(ctx context.Context, sceneID, groupID, jobName string, queue bool) error {
	payload := map[string]interface{}{
		"scene_id": sceneID,
		"group_id": groupID,
		"queue":    queue,
	}
	if jobName != "" {
		payload["job_name"] = jobName
	}
	return c.doJSON(ctx, "POST", "/remote-print/", payload, nil)
}
