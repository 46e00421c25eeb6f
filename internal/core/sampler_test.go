package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralcast/ruralcast/internal/model"
)

func probeServer(t *testing.T, size int, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	if handler == nil {
		payload := make([]byte, size)
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(payload)
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv
}

func TestSamplerDownloadProbe(t *testing.T) {
	var gotQuery, gotCache string
	payload := make([]byte, 200000)
	srv := probeServer(t, 0, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("t")
		gotCache = r.Header.Get("Cache-Control")
		w.Write(payload)
	})

	s, err := NewSampler(SamplerConfig{ProbeURL: srv.URL, PayloadBytes: 200000, Timeout: 5 * time.Second})
	require.NoError(t, err)

	sample := s.Measure(context.Background())

	assert.Equal(t, model.MethodDownloadProbe, sample.Method)
	require.NotNil(t, sample.SpeedMbps)
	assert.Greater(t, *sample.SpeedMbps, 0.0)
	assert.False(t, sample.Canceled)
	assert.False(t, sample.MeasuredAt.IsZero())
	assert.NotEmpty(t, gotQuery, "probe must carry a cache buster")
	assert.Contains(t, gotCache, "no-store")
}

func TestSamplerSpeedFormula(t *testing.T) {
	srv := probeServer(t, 1000000, nil)
	s, err := NewSampler(SamplerConfig{ProbeURL: srv.URL, PayloadBytes: 1000000})
	require.NoError(t, err)

	// Each clock read advances one second.
	base := time.Unix(1700000000, 0)
	calls := 0
	s.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	sample := s.Measure(context.Background())
	require.Equal(t, model.MethodDownloadProbe, sample.Method)
	// 1,000,000 bytes * 8 / 2s (cache buster consumes one tick) / 1e6
	assert.InDelta(t, 4.0, sample.Speed(), 0.0001)
}

func TestSamplerServerErrorFallsBack(t *testing.T) {
	srv := probeServer(t, 0, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	s, err := NewSampler(SamplerConfig{ProbeURL: srv.URL})
	require.NoError(t, err)

	sample := s.Measure(context.Background())

	assert.Equal(t, model.MethodErrorFallback, sample.Method)
	assert.Equal(t, FallbackSpeedMbps, sample.Speed())
	assert.Equal(t, model.BandwidthLow, DefaultClassifier().Classify(sample))
	assert.False(t, sample.Canceled)
}

func TestSamplerTimeoutFallsBack(t *testing.T) {
	release := make(chan struct{})
	srv := probeServer(t, 0, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	s, err := NewSampler(SamplerConfig{ProbeURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	sample := s.Measure(context.Background())

	assert.Equal(t, model.MethodErrorFallback, sample.Method)
	assert.False(t, sample.Canceled, "a probe timeout is a failure, not a cancellation")
}

func TestSamplerCanceledContext(t *testing.T) {
	srv := probeServer(t, 0, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	s, err := NewSampler(SamplerConfig{ProbeURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	sample := s.Measure(ctx)
	assert.True(t, sample.Canceled)
}

func TestSamplerPrefersHint(t *testing.T) {
	hit := false
	srv := probeServer(t, 0, func(w http.ResponseWriter, r *http.Request) { hit = true })

	downlink := 7.5
	s, err := NewSampler(SamplerConfig{
		ProbeURL: srv.URL,
		Hints:    StaticHint{Class: "4g", DownlinkMbps: &downlink},
	})
	require.NoError(t, err)

	sample := s.Measure(context.Background())
	assert.False(t, hit, "hint path must not touch the network")
	assert.Equal(t, model.MethodNetworkHint, sample.Method)
	assert.Equal(t, 7.5, sample.Speed())
	assert.Equal(t, "4g", sample.EffectiveTypeHint)
}

func TestSamplerClassOnlyHint(t *testing.T) {
	s, err := NewSampler(SamplerConfig{ProbeURL: "http://127.0.0.1:1/unused", Hints: StaticHint{Class: "slow"}})
	require.NoError(t, err)

	sample := s.Measure(context.Background())
	assert.Nil(t, sample.SpeedMbps)
	assert.Equal(t, model.BandwidthLow, DefaultClassifier().Classify(sample))
}

func TestSamplerEmptyHintProbes(t *testing.T) {
	srv := probeServer(t, 1024, nil)
	s, err := NewSampler(SamplerConfig{ProbeURL: srv.URL, Hints: StaticHint{}})
	require.NoError(t, err)

	assert.Equal(t, model.MethodDownloadProbe, s.Measure(context.Background()).Method)
}
