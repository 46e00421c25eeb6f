// Package httpapi provides a content source backed by the ruralcast HTTP API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ruralcast/ruralcast/internal/model"
	"github.com/ruralcast/ruralcast/internal/provider"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 20 * time.Second

// Source fetches lessons and variants from a remote backend.
type Source struct {
	id      string
	baseURL *url.URL
	client  *http.Client
	log     *zap.Logger
}

// NewSource creates a remote source rooted at baseURL.
func NewSource(id, baseURL string, timeout time.Duration, logger *zap.Logger) (*Source, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid content api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("content api url must be http or https, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		id:      id,
		baseURL: u,
		client:  &http.Client{Timeout: timeout},
		log:     logger.With(zap.String("component", "httpapi"), zap.String("source", id)),
	}, nil
}

var _ provider.Source = (*Source)(nil)

func (s *Source) ID() string          { return s.id }
func (s *Source) Type() string        { return "http" }
func (s *Source) DisplayName() string { return "Content API (" + s.baseURL.Host + ")" }

// Lesson fetches GET /api/lessons/{id}.
func (s *Source) Lesson(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	var l model.Lesson
	if err := s.get(ctx, fmt.Sprintf("/api/lessons/%d", lessonID), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Variant fetches GET /api/lessons/{id}/variants/{tier}.
func (s *Source) Variant(ctx context.Context, lessonID int64, tier model.ContentTier) (*model.ContentVariant, error) {
	var v model.ContentVariant
	if err := s.get(ctx, fmt.Sprintf("/api/lessons/%d/variants/%s", lessonID, url.PathEscape(string(tier))), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Tiers fetches GET /api/lessons/{id}/variants and returns the tiers present.
func (s *Source) Tiers(ctx context.Context, lessonID int64) ([]model.ContentTier, error) {
	var records []model.VariantRecord
	if err := s.get(ctx, fmt.Sprintf("/api/lessons/%d/variants", lessonID), &records); err != nil {
		return nil, err
	}
	tiers := make([]model.ContentTier, 0, len(records))
	for _, r := range records {
		tiers = append(tiers, r.BandwidthType)
	}
	return tiers, nil
}

// PutVariant posts a variant to POST /api/lessons/{id}/variants.
func (s *Source) PutVariant(ctx context.Context, v model.ContentVariant) error {
	body, err := json.Marshal(v.Record())
	if err != nil {
		return fmt.Errorf("failed to encode variant: %w", err)
	}
	req, err := s.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/lessons/%d/variants", v.LessonID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, nil)
}

// CheckHealth probes GET /health.
func (s *Source) CheckHealth(ctx context.Context) provider.HealthState {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := s.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return provider.HealthStateUnavailable
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return provider.HealthStateUnavailable
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return provider.HealthStateHealthy
	}
	return provider.HealthStateDegraded
}

func (s *Source) get(ctx context.Context, path string, out any) error {
	req, err := s.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return s.do(req, out)
}

func (s *Source) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *s.baseURL
	u.Path = s.baseURL.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (s *Source) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach content api: %w", err)
	}
	defer resp.Body.Close()

	s.log.Debug("content api request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return NewAPIError(resp.StatusCode, "", fmt.Errorf("content api returned %s", resp.Status))
		}
		return fmt.Errorf("failed to decode content api response: %w", err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		return classify(resp.StatusCode, env)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode content api data: %w", err)
	}
	return nil
}

// classify maps a failed response onto the engine's error taxonomy.
func classify(status int, env Envelope) error {
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusNotFound && env.Error == CodeLessonNotFound:
		return NewAPIError(status, env.Error, fmt.Errorf("%s: %w", msg, model.ErrLessonNotFound))
	case status == http.StatusNotFound && env.Error == CodeVariantNotFound:
		return NewAPIError(status, env.Error, fmt.Errorf("%s: %w", msg, model.ErrVariantNotFound))
	default:
		return NewAPIError(status, env.Error, errors.New(msg))
	}
}
