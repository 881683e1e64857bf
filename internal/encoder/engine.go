// Package encoder turns segment payloads into embedding vectors by talking
// to external model engines over HTTP. Engines are batched, health-probed,
// and fronted by a pool that callers submit single items to.
package encoder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
)

// Well-known engine names. The clip engine embeds images and text into a
// shared space, clap embeds audio and text, whisper transcribes speech, and
// face detects and embeds faces.
const (
	EngineCLIP    = "clip"
	EngineCLAP    = "clap"
	EngineWhisper = "whisper"
	EngineFace    = "face"
)

// Input is one item submitted to an engine. Exactly one content field is
// set.
type Input struct {
	Text       string `json:"text,omitempty"`
	ImageB64   string `json:"image_b64,omitempty"`
	AudioB64   string `json:"audio_b64,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// TextInput wraps a string for embedding.
func TextInput(text string) Input {
	return Input{Text: text}
}

// ImageInput wraps encoded image bytes for embedding.
func ImageInput(data []byte) Input {
	return Input{ImageB64: base64.StdEncoding.EncodeToString(data)}
}

// AudioInput wraps mono s16le PCM for embedding.
func AudioInput(pcm []byte, sampleRate int) Input {
	return Input{AudioB64: base64.StdEncoding.EncodeToString(pcm), SampleRate: sampleRate}
}

// Face is one detected face in an image.
type Face struct {
	Embedding  []float32 `json:"embedding"`
	Confidence float64   `json:"confidence"`
	Box        [4]int    `json:"box,omitempty"`
}

// HTTPError is a non-2xx engine response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("engine http %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Client is the HTTP client for one model engine.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	modelPath  string
	device     string
	dim        int
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a Client for an engine endpoint.
func NewClient(cfg config.EngineConfig, defaultDevice string) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("engine %s: url required", cfg.Name)
	}

	device := cfg.Device
	if device == "" {
		device = defaultDevice
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		name:       cfg.Name,
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		modelPath:  cfg.ModelPath,
		device:     device,
		dim:        cfg.Dim,
		timeout:    2 * time.Minute,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// NewClientWithHTTPClient is intended for tests; it avoids network access by
// using a custom RoundTripper.
func NewClientWithHTTPClient(cfg config.EngineConfig, defaultDevice string, httpClient *http.Client) (*Client, error) {
	c, err := NewClient(cfg, defaultDevice)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

// Name returns the engine name.
func (c *Client) Name() string { return c.name }

// Dim returns the configured embedding dimension.
func (c *Client) Dim() int { return c.dim }

type embedRequest struct {
	Model  string  `json:"model,omitempty"`
	Device string  `json:"device,omitempty"`
	Inputs []Input `json:"inputs"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed embeds a batch of inputs, preserving order. A response whose length
// or dimensions do not match the request is a shape mismatch.
func (c *Client) Embed(ctx context.Context, inputs []Input) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	req := embedRequest{Model: c.modelPath, Device: c.device, Inputs: inputs}
	var resp embedResponse
	if err := c.doJSON(ctx, "POST", "/embed", req, &resp); err != nil {
		return nil, c.wrapEngineErr(err)
	}

	if len(resp.Embeddings) != len(inputs) {
		return nil, models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: engine %s returned %d embeddings for %d inputs",
				models.ErrShapeMismatch, c.name, len(resp.Embeddings), len(inputs)))
	}
	for i, vec := range resp.Embeddings {
		if c.dim > 0 && len(vec) != c.dim {
			return nil, models.WrapKind(models.ErrKindModel,
				fmt.Errorf("%w: engine %s item %d has dim %d, want %d",
					models.ErrShapeMismatch, c.name, i, len(vec), c.dim))
		}
	}
	return resp.Embeddings, nil
}

type transcribeRequest struct {
	Model      string `json:"model,omitempty"`
	Device     string `json:"device,omitempty"`
	AudioB64   string `json:"audio_b64"`
	SampleRate int    `json:"sample_rate"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe converts mono s16le PCM speech to text.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	req := transcribeRequest{
		Model:      c.modelPath,
		Device:     c.device,
		AudioB64:   base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
	}
	var resp transcribeResponse
	if err := c.doJSON(ctx, "POST", "/transcribe", req, &resp); err != nil {
		return "", c.wrapEngineErr(err)
	}
	return strings.TrimSpace(resp.Text), nil
}

type facesRequest struct {
	Model    string `json:"model,omitempty"`
	Device   string `json:"device,omitempty"`
	ImageB64 string `json:"image_b64"`
}

type facesResponse struct {
	Faces []Face `json:"faces"`
}

// DetectFaces finds and embeds faces in an encoded image. Zero faces is a
// valid result.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) ([]Face, error) {
	req := facesRequest{
		Model:    c.modelPath,
		Device:   c.device,
		ImageB64: base64.StdEncoding.EncodeToString(imageData),
	}
	var resp facesResponse
	if err := c.doJSON(ctx, "POST", "/faces", req, &resp); err != nil {
		return nil, c.wrapEngineErr(err)
	}
	for i, face := range resp.Faces {
		if c.dim > 0 && len(face.Embedding) != c.dim {
			return nil, models.WrapKind(models.ErrKindModel,
				fmt.Errorf("%w: engine %s face %d has dim %d, want %d",
					models.ErrShapeMismatch, c.name, i, len(face.Embedding), c.dim))
		}
	}
	return resp.Faces, nil
}

// Health checks whether the engine is serving.
func (c *Client) Health(ctx context.Context) error {
	if err := c.doJSON(ctx, "GET", "/health", nil, nil); err != nil {
		return c.wrapEngineErr(err)
	}
	return nil
}

func (c *Client) wrapEngineErr(err error) error {
	var ke *models.KindError
	if errors.As(err, &ke) {
		return err
	}
	return models.WrapKind(models.ErrKindModel,
		fmt.Errorf("%w: engine %s: %v", models.ErrModelUnavailable, c.name, err))
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
