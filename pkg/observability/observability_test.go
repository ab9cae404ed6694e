package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docket/pkg/domain"
)

func base(t domain.EventType, at time.Time) domain.EventBase {
	return domain.EventBase{Timestamp: at, Type: t, SessionID: "s1"}
}

func TestMetrics_Hooks(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	h := m.Hooks()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	h.OnPhaseChange(ctx, &domain.PhaseEvent{EventBase: base(domain.EventPhaseChange, now), From: domain.PhaseAsking, To: domain.PhaseSubmitting})
	h.OnPhaseChange(ctx, &domain.PhaseEvent{EventBase: base(domain.EventPhaseChange, now), From: domain.PhaseAsking, To: domain.PhaseSubmitting})
	h.OnEcho(ctx, &domain.EchoEvent{EventBase: base(domain.EventEcho, now), QuestionID: domain.FieldClient})
	h.OnError(ctx, &domain.ErrorEvent{EventBase: base(domain.EventError, now), Kind: domain.ErrorKindRejection})

	h.OnThinking(ctx, &domain.ThinkingEvent{EventBase: base(domain.EventThinking, now), Active: true})
	h.OnThinking(ctx, &domain.ThinkingEvent{EventBase: base(domain.EventThinking, now.Add(1500*time.Millisecond))})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("asking", "submitting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.answers.WithLabelValues(domain.FieldClient)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("rejection")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.thinking))
	assert.Empty(t, m.started)
}

func TestMetrics_ThinkingStopWithoutStart(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.Hooks().OnThinking(context.Background(), &domain.ThinkingEvent{EventBase: base(domain.EventThinking, time.Now())})
	assert.Empty(t, m.started)
}

func TestMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewMetrics(reg)
	require.NoError(t, err)
	b, err := NewMetrics(reg)
	require.NoError(t, err)

	b.Hooks().OnError(context.Background(), &domain.ErrorEvent{Kind: domain.ErrorKindTransport})
	assert.Equal(t, 1.0, testutil.ToFloat64(a.errors.WithLabelValues("transport")))
}

func TestLogHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := LogHooks(logger)

	h.OnPhaseChange(context.Background(), &domain.PhaseEvent{
		EventBase: base(domain.EventPhaseChange, time.Now()),
		From:      domain.PhaseCompleted,
		To:        domain.PhaseConfirmed,
	})
	h.OnError(context.Background(), &domain.ErrorEvent{Kind: domain.ErrorKindUpload, Message: "boom"})

	out := buf.String()
	assert.Contains(t, out, `"msg":"phase_change"`)
	assert.Contains(t, out, `"to":"confirmed"`)
	assert.Contains(t, out, `"kind":"upload"`)
	assert.Nil(t, h.OnThinking)
}
