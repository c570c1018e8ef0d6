package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/client"
	"github.com/sonicgenius/api/internal/model"
	"github.com/sonicgenius/api/internal/telemetry"
)

// Worker stages reported while an analysis runs
const (
	StagePreparing     = "preparing"
	StageInvokingModel = "invoking_model"
	StageNormalizing   = "normalizing"
)

// StageFunc observes analysis progress
type StageFunc func(stage string, progress int)

// AnalysisOptions tunes an AnalysisService
type AnalysisOptions struct {
	Language      string
	Timeout       time.Duration
	MaxAudioBytes int64
}

// AnalysisService runs one analysis end to end: build the invocation, call
// the model once, normalize the reply. There are no retries.
type AnalysisService struct {
	builder    *analysis.Builder
	normalizer *analysis.Normalizer
	generator  client.ContentGenerator
	timeout    time.Duration
	maxAudio   int64
	logger     zerolog.Logger
}

func NewAnalysisService(generator client.ContentGenerator, opts AnalysisOptions, logger zerolog.Logger) (*AnalysisService, error) {
	normalizer, err := analysis.NewNormalizer()
	if err != nil {
		return nil, fmt.Errorf("failed to create normalizer: %w", err)
	}
	return &AnalysisService{
		builder:    analysis.NewBuilder(opts.Language),
		normalizer: normalizer,
		generator:  generator,
		timeout:    opts.Timeout,
		maxAudio:   opts.MaxAudioBytes,
		logger:     logger.With().Str("component", "analysis").Logger(),
	}, nil
}

// AnalyzeByText analyzes a free text description of a track
func (s *AnalysisService) AnalyzeByText(ctx context.Context, query string) (*model.AnalysisResult, error) {
	return s.Analyze(ctx, analysis.Request{Mode: model.ModeText, Query: query})
}

// AnalyzeByVideoReference analyzes the track behind a video link. A
// successful result always carries a youtubeLink.
func (s *AnalysisService) AnalyzeByVideoReference(ctx context.Context, url string) (*model.AnalysisResult, error) {
	return s.Analyze(ctx, analysis.Request{Mode: model.ModeVideo, Reference: url})
}

// AnalyzeByAudio reads the audio fully before any model call. Read errors
// surface as InputReadFailure.
func (s *AnalysisService) AnalyzeByAudio(ctx context.Context, r io.Reader, mediaType string) (*model.AnalysisResult, error) {
	data, err := s.readAudio(r)
	if err != nil {
		s.observe(model.ModeAudio, time.Now(), err)
		return nil, err
	}
	return s.Analyze(ctx, analysis.Request{Mode: model.ModeAudio, Audio: data, MediaType: mediaType})
}

// Analyze runs a prepared request
func (s *AnalysisService) Analyze(ctx context.Context, req analysis.Request) (*model.AnalysisResult, error) {
	return s.AnalyzeStaged(ctx, req, nil)
}

// AnalyzeStaged is Analyze with stage callbacks
func (s *AnalysisService) AnalyzeStaged(ctx context.Context, req analysis.Request, stage StageFunc) (result *model.AnalysisResult, err error) {
	if stage == nil {
		stage = func(string, int) {}
	}
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "analysis."+string(req.Mode),
		attribute.String("analysis.mode", string(req.Mode)))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		s.observe(req.Mode, start, err)
	}()

	stage(StagePreparing, 10)
	inv, err := s.builder.Build(req)
	if err != nil {
		return nil, err
	}

	stage(StageInvokingModel, 30)
	reply, err := s.generate(ctx, inv)
	if err != nil {
		return nil, err
	}
	stage(StageNormalizing, 90)
	span.SetAttributes(
		attribute.String("analysis.model", reply.Model),
		attribute.Int("analysis.citations", len(reply.Citations)),
	)

	result, err = s.normalizer.Normalize(reply.Text, reply.Citations, analysis.Options{
		Mode:              inv.Mode,
		OriginalReference: inv.Reference,
	})
	if err != nil {
		var ae *analysis.Error
		if errors.As(err, &ae) && ae.Raw != "" {
			s.logger.Debug().Str("mode", string(req.Mode)).Str("raw", truncate(ae.Raw, 2048)).Msg("rejected model reply")
		}
		return nil, err
	}
	return result, nil
}

func (s *AnalysisService) generate(ctx context.Context, inv *analysis.Invocation) (*client.Reply, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reply, err := s.generator.Generate(callCtx, inv)
	if err != nil {
		return nil, analysis.TransportError(err)
	}
	// A reply racing a cancellation is discarded.
	if err := ctx.Err(); err != nil {
		return nil, analysis.TransportError(err)
	}
	return reply, nil
}

func (s *AnalysisService) readAudio(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, analysis.InvalidRequestError("payload", "audio payload must not be empty")
	}
	if s.maxAudio <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, analysis.InputReadError(err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxAudio+1))
	if err != nil {
		return nil, analysis.InputReadError(err)
	}
	if int64(len(data)) > s.maxAudio {
		return nil, analysis.InvalidRequestError("payload", fmt.Sprintf("audio payload exceeds %d bytes", s.maxAudio))
	}
	return data, nil
}

func (s *AnalysisService) observe(mode model.AnalysisMode, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = string(analysis.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	telemetry.ObserveAnalysis(string(mode), outcome, elapsed)

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("mode", string(mode)).Str("outcome", outcome).Dur("elapsed", elapsed).Msg("analysis finished")
}

// IsConfigured reports whether the model client holds credentials
func (s *AnalysisService) IsConfigured() bool {
	return s.generator != nil && s.generator.IsConfigured()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
