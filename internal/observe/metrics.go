// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge so the standard
// /metrics endpoint keeps working.
//
// A [Metrics] instance is created once via [NewMetrics] and threaded through
// the app; tests construct their own from an isolated [metric.MeterProvider]
// to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all metrics.
const meterName = "github.com/MrWong99/heckle"

// Metrics holds all metric instruments. All fields are safe for concurrent
// use; the underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency (cache misses only).
	TTSDuration metric.Float64Histogram

	// PlaybackDuration tracks wall-clock clip playback time.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts sealed utterances entering transcription.
	Utterances metric.Int64Counter

	// TranscriptionFailures counts utterances whose transcription errored or
	// timed out.
	TranscriptionFailures metric.Int64Counter

	// PhraseMatches counts transcripts that matched a trigger phrase.
	PhraseMatches metric.Int64Counter

	// ClipPlays counts completed playbacks. Use with attribute:
	//   attribute.String("trigger", "phrase"|"random"|"greeting")
	ClipPlays metric.Int64Counter

	// TriggersDropped counts triggers that lost the playback gate.
	TriggersDropped metric.Int64Counter

	// SynthesisFailures counts failed TTS synthesis calls.
	SynthesisFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveSpeakers tracks per-speaker ingest goroutines across sessions.
	ActiveSpeakers metric.Int64UpDownCounter

	// --- HTTP ---

	// HTTPRequestDuration tracks management API request time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram boundaries (seconds) sized for STT and
// playback latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] using the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("heckle.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("heckle.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("heckle.playback.duration",
		metric.WithDescription("Wall-clock duration of clip playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("heckle.utterances",
		metric.WithDescription("Sealed utterances entering transcription."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionFailures, err = m.Int64Counter("heckle.transcription.failures",
		metric.WithDescription("Transcriptions that errored or timed out."),
	); err != nil {
		return nil, err
	}
	if met.PhraseMatches, err = m.Int64Counter("heckle.phrase.matches",
		metric.WithDescription("Transcripts that matched a trigger phrase."),
	); err != nil {
		return nil, err
	}
	if met.ClipPlays, err = m.Int64Counter("heckle.clip.plays",
		metric.WithDescription("Completed clip playbacks."),
	); err != nil {
		return nil, err
	}
	if met.TriggersDropped, err = m.Int64Counter("heckle.triggers.dropped",
		metric.WithDescription("Triggers dropped because playback was busy."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisFailures, err = m.Int64Counter("heckle.synthesis.failures",
		metric.WithDescription("Failed text-to-speech synthesis calls."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("heckle.sessions.active",
		metric.WithDescription("Live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSpeakers, err = m.Int64UpDownCounter("heckle.speakers.active",
		metric.WithDescription("Speaker ingest goroutines across all sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("heckle.http.request.duration",
		metric.WithDescription("Management API request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordSTT records one transcription attempt.
func (m *Metrics) RecordSTT(ctx context.Context, elapsed time.Duration, err error) {
	m.STTDuration.Record(ctx, elapsed.Seconds())
	m.Utterances.Add(ctx, 1)
	if err != nil {
		m.TranscriptionFailures.Add(ctx, 1)
	}
}

// RecordPlay records a completed playback with its trigger kind.
func (m *Metrics) RecordPlay(ctx context.Context, trigger string, elapsed time.Duration) {
	m.PlaybackDuration.Record(ctx, elapsed.Seconds())
	m.ClipPlays.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}
