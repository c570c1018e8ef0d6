package response

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/model"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{analysis.InvalidRequestError("query", "blank"), 400, CodeValidationError},
		{analysis.InputReadError(errors.New("eof")), 400, CodeInputReadError},
		{analysis.TransportError(errors.New("reset")), 502, CodeAIError},
		{&analysis.Error{Kind: analysis.KindEmptyResponse}, 502, CodeEmptyResponse},
		{&analysis.Error{Kind: analysis.KindMalformedResponse}, 502, CodeMalformedResponse},
		{&analysis.Error{Kind: analysis.KindSchemaViolation}, 502, CodeSchemaViolation},
		{errors.New("boom"), 500, CodeServiceError},
	}
	for _, tt := range tests {
		status, code := StatusFor(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("StatusFor(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestAnalysisErrorEnvelope(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return AnalysisError(c, &analysis.Error{
			Kind:   analysis.KindSchemaViolation,
			Field:  "bpm",
			Fields: []string{"bpm", "mood"},
		}, model.ModeVideo)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var got struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details struct {
				Fields []string `json:"fields"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if got.Error.Code != CodeSchemaViolation {
		t.Errorf("unexpected code %s", got.Error.Code)
	}
	if len(got.Error.Details.Fields) != 2 || got.Error.Details.Fields[0] != "bpm" {
		t.Errorf("unexpected fields %v", got.Error.Details.Fields)
	}
	if got.Error.Message != analysis.Describe(nil, model.ModeVideo) {
		t.Errorf("unexpected message %q", got.Error.Message)
	}
}
