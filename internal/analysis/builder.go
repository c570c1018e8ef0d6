package analysis

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sonicgenius/api/internal/model"
)

// Tier selects the model capability class for an invocation.
type Tier string

const (
	TierStandard Tier = "standard"
	TierAdvanced Tier = "advanced"
)

const (
	// DefaultLanguage is the locale descriptive fields are written in.
	DefaultLanguage = "pt-BR"
	// DefaultAudioMediaType is used when an audio payload carries no media type.
	DefaultAudioMediaType = "audio/mp3"
	// ResponseMIMEType is requested from the model in every mode.
	ResponseMIMEType = "application/json"
)

const styleDNAGuidelines = `RULES FOR 'sunoStyleDescription' (SUNO AI PRODUCTION DNA):
- The prompt MUST START in this order: [BPM], [KEY], [MAIN VIBE/MOOD].
- Build a technical style prompt of up to 1000 real characters.
- Separate tags with commas. Prefer terms Suno AI interprets well.
- FULL STRUCTURE: [BPM], [KEY], [VIBE/MOOD], [GENRES], [TECHNICAL INSTRUMENTATION], [VOCAL STYLE], [MIX EFFECTS], [AMBIENCE].
- FORBIDDEN: never mention artist names.`

const (
	textSystemInstruction  = "You are a musicology expert and sound designer. Your goal is to extract the technical DNA of a work for faithful sonic recreation."
	videoSystemInstruction = "You are a precision music auditor. Your absolute priority is making sure the analysis matches exactly the video at the given link. Verify the video title through search before analyzing."
	audioSystemInstruction = "You are a sound synthesis expert. Analyze the audio and create the production DNA with explicit BPM and mood."
)

// Request is the caller input for one analysis.
type Request struct {
	Mode      model.AnalysisMode
	Query     string
	Reference string
	Audio     []byte
	MediaType string
}

// Attachment is binary content sent inline with the prompt.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Invocation is everything the model client needs for one call.
type Invocation struct {
	Mode              model.AnalysisMode
	Tier              Tier
	SystemInstruction string
	Prompt            string
	Attachment        *Attachment
	UseSearch         bool
	ResponseMIMEType  string
	ResponseSchema    map[string]any
	Language          string

	// Reference is the original video link, kept for backfilling the result.
	Reference string
}

// Builder turns analysis requests into model invocations. It holds no
// mutable state and is safe for concurrent use.
type Builder struct {
	language string
}

func NewBuilder(language string) *Builder {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	return &Builder{language: language}
}

// Language returns the locale descriptive fields are requested in.
func (b *Builder) Language() string {
	return b.language
}

// Build validates req and produces the invocation for its mode.
func (b *Builder) Build(req Request) (*Invocation, error) {
	switch req.Mode {
	case model.ModeText:
		return b.buildText(req.Query)
	case model.ModeVideo:
		return b.buildVideo(req.Reference)
	case model.ModeAudio:
		return b.buildAudio(req.Audio, req.MediaType)
	default:
		return nil, InvalidRequestError("mode", fmt.Sprintf("unsupported mode %q", req.Mode))
	}
}

func (b *Builder) buildText(query string) (*Invocation, error) {
	if strings.TrimSpace(query) == "" {
		return nil, InvalidRequestError("query", "query must not be blank")
	}

	prompt := fmt.Sprintf("Perform a complete reverse engineering of the sound of: \"%s\".\n\n%s", query, styleDNAGuidelines)

	inv := b.base(model.ModeText, TierStandard, textSystemInstruction, prompt)
	inv.UseSearch = true
	return inv, nil
}

func (b *Builder) buildVideo(reference string) (*Invocation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, InvalidRequestError("reference", "video link must not be blank")
	}
	if !isWebURL(reference) {
		return nil, InvalidRequestError("reference", "video link must be an absolute http(s) URL")
	}

	prompt := fmt.Sprintf(`CRITICAL TASK: VIDEO IDENTIFICATION AND MUSIC ANALYSIS
Target link: "%s"

FOLLOW THESE STEPS STRICTLY IN ORDER:
1. MANDATORY SEARCH: use search to look up the given URL ("%s") specifically.
   - The goal is to find the exact video title and channel name.
   - Do NOT guess. If the search does not return this specific video, report the failure in the title field.

2. IDENTIFICATION: based on the title found in step 1, determine:
   - Track name
   - Artist
   - Version (original, remix, live or cover). Analyze the EXACT version in the video.

3. TECHNICAL ANALYSIS: research and infer the musical metadata (BPM, key, style) of the identified work.

4. DNA GENERATION: create the 'sunoStyleDescription' from the collected data.

%s`, reference, reference, styleDNAGuidelines)

	inv := b.base(model.ModeVideo, TierAdvanced, videoSystemInstruction, prompt)
	inv.UseSearch = true
	inv.Reference = reference
	return inv, nil
}

func (b *Builder) buildAudio(data []byte, mediaType string) (*Invocation, error) {
	if len(data) == 0 {
		return nil, InvalidRequestError("payload", "audio payload must not be empty")
	}
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		mediaType = DefaultAudioMediaType
	}

	prompt := "Extract the complete production DNA for Suno AI, starting with BPM, key and vibe/mood.\n\n" + styleDNAGuidelines

	inv := b.base(model.ModeAudio, TierStandard, audioSystemInstruction, prompt)
	inv.Attachment = &Attachment{MIMEType: mediaType, Data: data}
	return inv, nil
}

func (b *Builder) base(mode model.AnalysisMode, tier Tier, system, prompt string) *Invocation {
	return &Invocation{
		Mode:              mode,
		Tier:              tier,
		SystemInstruction: fmt.Sprintf("%s Return JSON only. Write every descriptive field in %s.", system, b.language),
		Prompt:            prompt,
		ResponseMIMEType:  ResponseMIMEType,
		ResponseSchema:    ResponseSchema(),
		Language:          b.language,
	}
}

func isWebURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
