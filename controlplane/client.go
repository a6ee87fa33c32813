// Package controlplane is the thin HTTP client the core uses to read the
// camera/person/embedding catalog and to best-effort report recognition
// activity, per SPEC_FULL.md section 4.9 and 6. It owns none of this
// state: every read is a snapshot, every write is fire-and-forget from
// the caller's point of view (the events package is what actually calls
// the Post* methods, off the hot path).
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"command-center-vms-cctv/be/config"
	"command-center-vms-cctv/be/model"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCount int
}

func New(cfg config.ControlPlaneConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCount: cfg.RetryCount,
	}
}

// ListCameras fetches the full camera catalog. Reads are retried with a
// short linear backoff since a failed read at worker startup is fatal to
// that worker (no camera list, no worker to run).
func (c *Client) ListCameras(ctx context.Context) ([]model.Camera, error) {
	var out []cameraDTO
	if err := c.getWithRetry(ctx, "/api/v1/cameras", &out); err != nil {
		return nil, fmt.Errorf("controlplane: list cameras: %w", err)
	}
	cams := make([]model.Camera, 0, len(out))
	for _, d := range out {
		cams = append(cams, d.toModel())
	}
	return cams, nil
}

// ListPersons fetches the enrolled-person catalog.
func (c *Client) ListPersons(ctx context.Context) ([]model.Person, error) {
	var out []model.Person
	if err := c.getWithRetry(ctx, "/api/v1/persons", &out); err != nil {
		return nil, fmt.Errorf("controlplane: list persons: %w", err)
	}
	return out, nil
}

// ListEmbeddingsSince fetches embeddings added or changed since the given
// Identity Index version, enabling incremental index reloads.
func (c *Client) ListEmbeddingsSince(ctx context.Context, since uint64) ([]model.FaceEmbedding, uint64, error) {
	var out struct {
		Version    uint64                `json:"version"`
		Embeddings []model.FaceEmbedding `json:"embeddings"`
	}
	path := fmt.Sprintf("/api/v1/embeddings?since=%d", since)
	if err := c.getWithRetry(ctx, path, &out); err != nil {
		return nil, 0, fmt.Errorf("controlplane: list embeddings: %w", err)
	}
	return out.Embeddings, out.Version, nil
}

// PostRecognition reports a single recognition result. Best-effort: a
// failure is returned to the caller (the events relay logs and drops it,
// never blocking the hot path on it).
func (c *Client) PostRecognition(ctx context.Context, cameraID string, rec model.FaceRecord, wallClock time.Time, frameRef uint64) error {
	body := map[string]any{
		"camera_id":  cameraID,
		"wall_clock": wallClock,
		"person_id":  nullableString(rec.PersonID),
		"similarity": rec.Similarity,
		"box":        rec.Box,
		"frame_ref":  frameRef,
	}
	return c.postJSON(ctx, "/api/v1/recognitions", body)
}

// PostUnknown reports a newly admitted unknown-face candidate.
func (c *Client) PostUnknown(ctx context.Context, cameraID string, wallClock time.Time, cropPNGBase64 string, embedding []float32, quality float64) error {
	body := map[string]any{
		"camera_id":       cameraID,
		"wall_clock":      wallClock,
		"crop_png_base64": cropPNGBase64,
		"embedding":       embedding,
		"quality":         quality,
	}
	return c.postJSON(ctx, "/api/v1/unknowns", body)
}

// PostEvent reports a lifecycle event (e.g. fatal worker termination).
func (c *Client) PostEvent(ctx context.Context, cameraID, kind, detail string) error {
	body := map[string]any{
		"camera_id":  cameraID,
		"wall_clock": time.Now(),
		"kind":       kind,
		"detail":     detail,
	}
	return c.postJSON(ctx, "/api/v1/events", body)
}

func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		if err := c.get(ctx, path, out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("controlplane: marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("controlplane: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("controlplane: post %s: status %d: %s", path, resp.StatusCode, string(b))
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type cameraDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Source   string `json:"source_kind"`
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	FPSLimit int    `json:"fps_limit"`
	Enabled  bool   `json:"enabled"`
}

func (d cameraDTO) toModel() model.Camera {
	return model.Camera{
		ID:       d.ID,
		Name:     d.Name,
		Source:   model.SourceKind(d.Source),
		URI:      d.URI,
		Username: d.Username,
		Password: d.Password,
		FPSLimit: d.FPSLimit,
		Enabled:  d.Enabled,
	}
}
