package model

// AnalysisMode selects how a music query is supplied
type AnalysisMode string

const (
	ModeText  AnalysisMode = "text"
	ModeVideo AnalysisMode = "video"
	ModeAudio AnalysisMode = "audio"
)

// GenreComponent is one entry of the genre mix. Percentages are independent
// and are not required to sum to 100.
type GenreComponent struct {
	Name        string  `json:"name" yaml:"name"`
	Percentage  float64 `json:"percentage" yaml:"percentage"`
	Description string  `json:"description" yaml:"description"`
}

// ReferenceLink is a source backing the analysis
type ReferenceLink struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
}

// AnalysisResult is the structured music analysis returned by the model
type AnalysisResult struct {
	Title               string           `json:"title" yaml:"title"`
	Artist              string           `json:"artist" yaml:"artist"`
	Genres              []GenreComponent `json:"genres" yaml:"genres"`
	BPM                 float64          `json:"bpm" yaml:"bpm"`
	Key                 string           `json:"key" yaml:"key"`
	Mood                []string         `json:"mood" yaml:"mood"`
	Instrumentation     []string         `json:"instrumentation" yaml:"instrumentation"`
	HistoricalContext   string           `json:"historicalContext" yaml:"historicalContext"`
	TechnicalAnalysis   string           `json:"technicalAnalysis" yaml:"technicalAnalysis"`
	SimilarArtists      []string         `json:"similarArtists" yaml:"similarArtists"`
	VibeDescription     string           `json:"vibeDescription" yaml:"vibeDescription"`
	DrumAnalysis        string           `json:"drumAnalysis" yaml:"drumAnalysis"`
	BassAnalysis        string           `json:"bassAnalysis" yaml:"bassAnalysis"`
	RhythmAnalysis      string           `json:"rhythmAnalysis" yaml:"rhythmAnalysis"`
	StyleAnalysis       string           `json:"styleAnalysis" yaml:"styleAnalysis"`
	HarmonicInstruments []string         `json:"harmonicInstruments" yaml:"harmonicInstruments"`
	TimbreAnalysis      string           `json:"timbreAnalysis" yaml:"timbreAnalysis"`
	DynamicsAnalysis    string           `json:"dynamicsAnalysis" yaml:"dynamicsAnalysis"`
	ChordProgression    string           `json:"chordProgression" yaml:"chordProgression"`
	TonalityAnalysis    string           `json:"tonalityAnalysis" yaml:"tonalityAnalysis"`
	VocalRange          string           `json:"vocalRange" yaml:"vocalRange"`
	VocalTimbre         string           `json:"vocalTimbre" yaml:"vocalTimbre"`
	VocalTechnique      string           `json:"vocalTechnique" yaml:"vocalTechnique"`
	Environment         string           `json:"environment" yaml:"environment"`
	ProductionAnalysis  string           `json:"productionAnalysis" yaml:"productionAnalysis"`
	MixAnalysis         string           `json:"mixAnalysis" yaml:"mixAnalysis"`
	MasteringAnalysis   string           `json:"masteringAnalysis" yaml:"masteringAnalysis"`
	LyricsAnalysis      string           `json:"lyricsAnalysis" yaml:"lyricsAnalysis"`
	StructureAnalysis   string           `json:"structureAnalysis" yaml:"structureAnalysis"`
	SingerGenreStyle    string           `json:"singerGenreStyle" yaml:"singerGenreStyle"`
	StylePrompt         string           `json:"stylePrompt" yaml:"stylePrompt"`

	// SunoStyleDescription is the production DNA: BPM, key and primary mood
	// first, then comma separated tags. Never names artists.
	SunoStyleDescription string `json:"sunoStyleDescription" yaml:"sunoStyleDescription"`

	DetailedMusicalStyle string          `json:"detailedMusicalStyle" yaml:"detailedMusicalStyle"`
	SuggestedMixStyle    string          `json:"suggestedMixStyle" yaml:"suggestedMixStyle"`
	YoutubeLink          string          `json:"youtubeLink,omitempty" yaml:"youtubeLink,omitempty"`
	ReferenceLinks       []ReferenceLink `json:"referenceLinks" yaml:"referenceLinks"`
}

// PromptInfo describes a generated style prompt and its length against the soft limit
type PromptInfo struct {
	Text      string `json:"text" yaml:"text"`
	Length    int    `json:"length" yaml:"length"`
	Limit     int    `json:"limit" yaml:"limit"`
	NearLimit bool   `json:"nearLimit" yaml:"nearLimit"`
	OverLimit bool   `json:"overLimit" yaml:"overLimit"`
}

// StylePrompts holds the base and fusion prompts derived from an analysis
type StylePrompts struct {
	Base   PromptInfo `json:"base" yaml:"base"`
	Fusion PromptInfo `json:"fusion" yaml:"fusion"`
}

// TextAnalysisRequest represents the request body for POST /api/analyze/text
type TextAnalysisRequest struct {
	Query string `json:"query" validate:"required,min=1,max=500"`
}

// VideoAnalysisRequest represents the request body for POST /api/analyze/video
type VideoAnalysisRequest struct {
	URL string `json:"url" validate:"required,url,max=2048"`
}

// AnalysisResponse is returned by the synchronous analyze endpoints and by finished jobs
type AnalysisResponse struct {
	Mode     AnalysisMode    `json:"mode" yaml:"mode"`
	Analysis *AnalysisResult `json:"analysis" yaml:"analysis"`
	Prompts  StylePrompts    `json:"prompts" yaml:"prompts"`
	VibeTags string          `json:"vibeTags" yaml:"vibeTags"`
}
