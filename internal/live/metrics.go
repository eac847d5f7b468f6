package live

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	sessions       metric.Int64Counter
	failures       metric.Int64Counter
	framesSent     metric.Int64Counter
	framesDropped  metric.Int64Counter
	chunks         metric.Int64Counter
	decodeFailures metric.Int64Counter
	interrupts     metric.Int64Counter
	turns          metric.Int64Counter
}

func newMetrics(logger *slog.Logger) *metrics {
	meter := otel.Meter("github.com/Anukul-Chandra/Hey-Buddy/live")
	m, err := buildMetrics(meter)
	if err != nil {
		logger.Warn("failed to initialize live metrics", slog.String("error", err.Error()))
		m, _ = buildMetrics(noop.Meter{})
	}
	return m
}

func buildMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	m.sessions = counter("heybuddy.live.sessions", "Live sessions opened")
	m.failures = counter("heybuddy.live.failures", "Live sessions ended by an error")
	m.framesSent = counter("heybuddy.live.frames_sent", "Realtime input frames sent")
	m.framesDropped = counter("heybuddy.live.frames_dropped", "Frames dropped from a full pre-open queue")
	m.chunks = counter("heybuddy.live.chunks_scheduled", "Audio chunks scheduled for playback")
	m.decodeFailures = counter("heybuddy.live.decode_failures", "Inbound audio chunks that failed to decode")
	m.interrupts = counter("heybuddy.live.interrupts", "Playback interruptions")
	m.turns = counter("heybuddy.live.turns", "Completed turns")
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) failure(kind ErrorKind) {
	m.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *metrics) inc(c metric.Int64Counter) {
	c.Add(context.Background(), 1)
}
