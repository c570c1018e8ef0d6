package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/model"
	"github.com/sonicgenius/api/internal/service"
)

type fakeJobs struct {
	mu        sync.Mutex
	steps     []string
	completed *model.AnalysisResponse
	failCode  string
	failMsg   string
	released  bool
	canceled  bool
	audio     []byte
	audioErr  error
}

func (f *fakeJobs) UpdateProgress(_ context.Context, _ string, _ int, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.canceled {
		return service.ErrJobFinished
	}
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeJobs) CompleteJob(_ context.Context, _ string, result *model.AnalysisResponse) error {
	if f.canceled {
		return service.ErrJobFinished
	}
	f.completed = result
	return nil
}

func (f *fakeJobs) FailJob(_ context.Context, _ string, code, message string) error {
	f.failCode = code
	f.failMsg = message
	return nil
}

func (f *fakeJobs) LoadAudio(_ context.Context, _ *model.AnalysisJobPayload, _ int64) ([]byte, error) {
	return f.audio, f.audioErr
}

func (f *fakeJobs) ReleaseAudio(context.Context, *model.AnalysisJobPayload) {
	f.released = true
}

type fakeAnalyzer struct {
	result *model.AnalysisResult
	err    error
	got    analysis.Request
}

func (f *fakeAnalyzer) AnalyzeStaged(_ context.Context, req analysis.Request, stage service.StageFunc) (*model.AnalysisResult, error) {
	f.got = req
	stage(service.StagePreparing, 10)
	stage(service.StageInvokingModel, 30)
	if f.err != nil {
		return nil, f.err
	}
	stage(service.StageNormalizing, 90)
	return f.result, nil
}

type fakeHub struct {
	progress  []string
	completed bool
	errCode   string
}

func (h *fakeHub) BroadcastProgress(_ string, _ int, _ model.JobStatus, step string) {
	h.progress = append(h.progress, step)
}

func (h *fakeHub) BroadcastComplete(string, *model.AnalysisResponse) { h.completed = true }

func (h *fakeHub) BroadcastError(_ string, code, _ string) { h.errCode = code }

func task(t *testing.T, p model.AnalysisJobPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(service.TaskTypeAnalysis, data)
}

func TestProcessTaskSucceeds(t *testing.T) {
	jobs := &fakeJobs{}
	hub := &fakeHub{}
	analyzer := &fakeAnalyzer{result: &model.AnalysisResult{BPM: 90, Mood: []string{"calm"}, SunoStyleDescription: "90bpm, lofi"}}
	w := NewAnalysisWorker(jobs, analyzer, hub, 0, zerolog.Nop())

	err := w.ProcessTask(context.Background(), task(t, model.AnalysisJobPayload{JobID: "j1", Mode: model.ModeText, Query: "lofi"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if jobs.completed == nil || jobs.completed.VibeTags != "calm" {
		t.Fatalf("expected completed job, got %+v", jobs.completed)
	}
	if !hub.completed {
		t.Error("expected completion broadcast")
	}
	if len(hub.progress) != 3 || hub.progress[2] != service.StageNormalizing {
		t.Errorf("unexpected stages %v", hub.progress)
	}
	if analyzer.got.Query != "lofi" {
		t.Errorf("unexpected request %+v", analyzer.got)
	}
	if !jobs.released {
		t.Error("staged audio should always be released")
	}
}

func TestProcessTaskFailures(t *testing.T) {
	tests := []struct {
		name     string
		payload  model.AnalysisJobPayload
		jobs     *fakeJobs
		analyzer *fakeAnalyzer
		code     string
		message  string
	}{
		{
			name:     "schema violation",
			payload:  model.AnalysisJobPayload{JobID: "j1", Mode: model.ModeText, Query: "x"},
			jobs:     &fakeJobs{},
			analyzer: &fakeAnalyzer{err: &analysis.Error{Kind: analysis.KindSchemaViolation, Field: "bpm"}},
			code:     "SCHEMA_VIOLATION",
			message:  "Não foi possível realizar a análise. Verifique o nome da música e tente novamente.",
		},
		{
			name:     "audio download",
			payload:  model.AnalysisJobPayload{JobID: "j2", Mode: model.ModeAudio, AudioKey: "uploads/j2"},
			jobs:     &fakeJobs{audioErr: analysis.InputReadError(errors.New("no such key"))},
			analyzer: &fakeAnalyzer{},
			code:     "INPUT_READ_ERROR",
			message:  "Erro ao ler o arquivo.",
		},
		{
			name:     "video transport",
			payload:  model.AnalysisJobPayload{JobID: "j3", Mode: model.ModeVideo, URL: "https://youtu.be/x"},
			jobs:     &fakeJobs{},
			analyzer: &fakeAnalyzer{err: analysis.TransportError(context.DeadlineExceeded)},
			code:     "AI_ERROR",
			message:  "Erro ao analisar o link do YouTube. Verifique se o vídeo é público e tente novamente.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &fakeHub{}
			w := NewAnalysisWorker(tt.jobs, tt.analyzer, hub, 0, zerolog.Nop())

			if err := w.ProcessTask(context.Background(), task(t, tt.payload)); err != nil {
				t.Fatalf("failures must not be retried, got %v", err)
			}
			if tt.jobs.failCode != tt.code || tt.jobs.failMsg != tt.message {
				t.Errorf("got %s %q, want %s %q", tt.jobs.failCode, tt.jobs.failMsg, tt.code, tt.message)
			}
			if hub.errCode != tt.code {
				t.Errorf("expected error broadcast %s, got %s", tt.code, hub.errCode)
			}
			if tt.jobs.completed != nil {
				t.Error("failed job must not complete")
			}
		})
	}
}

func TestProcessTaskCanceledJobGetsNoResult(t *testing.T) {
	jobs := &fakeJobs{canceled: true}
	hub := &fakeHub{}
	analyzer := &fakeAnalyzer{result: &model.AnalysisResult{}}
	w := NewAnalysisWorker(jobs, analyzer, hub, 0, zerolog.Nop())

	if err := w.ProcessTask(context.Background(), task(t, model.AnalysisJobPayload{JobID: "j1", Mode: model.ModeText, Query: "x"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analyzer.got.Mode != "" {
		t.Error("canceled job must not reach the analyzer")
	}
	if hub.completed {
		t.Error("canceled job must not broadcast a result")
	}
	if jobs.failCode != "" {
		t.Error("canceled job must not be marked failed")
	}
}

func TestProcessTaskBadPayload(t *testing.T) {
	w := NewAnalysisWorker(&fakeJobs{}, &fakeAnalyzer{}, &fakeHub{}, 0, zerolog.Nop())

	err := w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeAnalysis, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}
