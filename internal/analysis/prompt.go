package analysis

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sonicgenius/api/internal/model"
)

// ComposeStylePrompts derives the base and fusion generation prompts from a
// result. The description is never truncated; only its length is reported.
func ComposeStylePrompts(r *model.AnalysisResult) model.StylePrompts {
	base := BasePrompt(r)
	fusion := base
	if s := strings.TrimSpace(r.SuggestedMixStyle); s != "" {
		fusion = base + ", " + s
	}
	return model.StylePrompts{
		Base:   promptInfo(base),
		Fusion: promptInfo(fusion),
	}
}

// BasePrompt returns the production DNA, prefixed with tempo, key and primary
// mood when the description does not already state a BPM.
func BasePrompt(r *model.AnalysisResult) string {
	desc := r.SunoStyleDescription
	if strings.Contains(strings.ToLower(desc), "bpm") {
		return desc
	}

	parts := []string{formatBPM(r.BPM) + "bpm"}
	if r.Key != "" {
		parts = append(parts, r.Key)
	}
	if len(r.Mood) > 0 && r.Mood[0] != "" {
		parts = append(parts, r.Mood[0])
	}
	parts = append(parts, desc)
	return strings.Join(parts, ", ")
}

// VibeTags joins the mood list for display.
func VibeTags(r *model.AnalysisResult) string {
	return strings.Join(r.Mood, ", ")
}

func promptInfo(text string) model.PromptInfo {
	n := utf8.RuneCountInString(text)
	return model.PromptInfo{
		Text:      text,
		Length:    n,
		Limit:     StyleDescriptionLimit,
		NearLimit: n > StyleDescriptionWarn,
		OverLimit: n > StyleDescriptionLimit,
	}
}

func formatBPM(bpm float64) string {
	return strconv.FormatFloat(bpm, 'f', -1, 64)
}

// NewResponse wraps a result with its derived prompts.
func NewResponse(mode model.AnalysisMode, r *model.AnalysisResult) *model.AnalysisResponse {
	return &model.AnalysisResponse{
		Mode:     mode,
		Analysis: r,
		Prompts:  ComposeStylePrompts(r),
		VibeTags: VibeTags(r),
	}
}
