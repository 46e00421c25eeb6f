package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruralcast/ruralcast/internal/model"
)

// FallbackSpeedMbps is reported when a probe fails. It classifies LOW under any
// valid threshold table.
const FallbackSpeedMbps = 0.01

// Defaults for the download probe.
const (
	DefaultProbePayloadBytes = 500000
	DefaultProbeTimeout      = 15 * time.Second
)

// Measurer produces bandwidth samples.
type Measurer interface {
	Measure(ctx context.Context) model.BandwidthSample
}

// HintSource supplies a platform connection hint when one is available.
type HintSource interface {
	Hint(ctx context.Context) (*model.ConnectionHint, bool)
}

// StaticHint is a fixed hint, typically taken from configuration.
// A zero value reports no hint.
type StaticHint model.ConnectionHint

func (h StaticHint) Hint(context.Context) (*model.ConnectionHint, bool) {
	if h.Class == "" && h.DownlinkMbps == nil {
		return nil, false
	}
	hint := model.ConnectionHint(h)
	return &hint, true
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	ProbeURL     string
	PayloadBytes int64
	Timeout      time.Duration
	Hints        HintSource
	Client       *http.Client
	Logger       *zap.Logger
}

// Sampler measures bandwidth from a connection hint when present, otherwise
// with a timed download of the probe payload. It never fails: transport errors
// produce an error-fallback sample.
type Sampler struct {
	probeURL     string
	payloadBytes int64
	timeout      time.Duration
	hints        HintSource
	client       *http.Client
	log          *zap.Logger
	now          func() time.Time
}

// NewSampler creates a sampler.
func NewSampler(cfg SamplerConfig) (*Sampler, error) {
	if _, err := url.Parse(cfg.ProbeURL); err != nil || cfg.ProbeURL == "" {
		return nil, fmt.Errorf("invalid probe url %q", cfg.ProbeURL)
	}
	if cfg.PayloadBytes <= 0 {
		cfg.PayloadBytes = DefaultProbePayloadBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Sampler{
		probeURL:     cfg.ProbeURL,
		payloadBytes: cfg.PayloadBytes,
		timeout:      cfg.Timeout,
		hints:        cfg.Hints,
		client:       cfg.Client,
		log:          cfg.Logger.With(zap.String("component", "sampler")),
		now:          time.Now,
	}, nil
}

// Measure returns one sample. If ctx is canceled mid-probe the returned sample
// has Canceled set and must be discarded by the caller.
func (s *Sampler) Measure(ctx context.Context) model.BandwidthSample {
	if s.hints != nil {
		if hint, ok := s.hints.Hint(ctx); ok {
			return s.fromHint(hint)
		}
	}
	return s.probe(ctx)
}

func (s *Sampler) fromHint(h *model.ConnectionHint) model.BandwidthSample {
	sample := model.BandwidthSample{
		Method:            model.MethodNetworkHint,
		MeasuredAt:        s.now(),
		EffectiveTypeHint: h.Class,
		RTTMs:             h.RTTMs,
	}
	if h.DownlinkMbps != nil {
		v := *h.DownlinkMbps
		sample.SpeedMbps = &v
	}
	s.log.Debug("using connection hint",
		zap.String("class", h.Class),
		zap.Float64("downlink_mbps", sample.Speed()))
	return sample
}

func (s *Sampler) probe(ctx context.Context) model.BandwidthSample {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	n, err := s.download(probeCtx)
	elapsed := s.now().Sub(start)

	if err != nil {
		sample := s.fallback()
		if ctx.Err() != nil {
			sample.Canceled = true
			s.log.Debug("speed probe canceled", zap.Error(err))
			return sample
		}
		s.log.Warn("speed probe failed, assuming slow connection",
			zap.Error(err),
			zap.Duration("elapsed", elapsed))
		return sample
	}

	if n != s.payloadBytes {
		s.log.Debug("probe payload size differs from configured size",
			zap.Int64("expected", s.payloadBytes),
			zap.Int64("received", n))
	}

	seconds := elapsed.Seconds()
	if seconds <= 0 {
		seconds = time.Millisecond.Seconds()
	}
	mbps := float64(n*8) / seconds / 1_000_000

	s.log.Debug("speed probe finished",
		zap.Int64("bytes", n),
		zap.Duration("elapsed", elapsed),
		zap.Float64("speed_mbps", mbps))

	return model.BandwidthSample{
		SpeedMbps:    &mbps,
		Method:       model.MethodDownloadProbe,
		MeasuredAt:   s.now(),
		DownloadTime: elapsed,
	}
}

// download fetches the probe payload and returns the number of bytes read.
func (s *Sampler) download(ctx context.Context) (int64, error) {
	u, err := url.Parse(s.probeURL)
	if err != nil {
		return 0, fmt.Errorf("failed to parse probe url: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(s.now().UnixNano(), 10)+"-"+uuid.NewString())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch probe payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("probe endpoint returned %s", resp.Status)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read probe payload: %w", err)
	}
	if n == 0 {
		return 0, errors.New("probe endpoint returned an empty body")
	}
	return n, nil
}

func (s *Sampler) fallback() model.BandwidthSample {
	v := FallbackSpeedMbps
	return model.BandwidthSample{
		SpeedMbps:  &v,
		Method:     model.MethodErrorFallback,
		MeasuredAt: s.now(),
	}
}
