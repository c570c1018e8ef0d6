package analysis

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sonicgenius/api/internal/model"
)

// Default titles for grounding citations that arrive without one.
const (
	DefaultSearchSourceTitle = "Fonte de Pesquisa"
	DefaultConfirmedRefTitle = "Referência Confirmada"
)

const rootContext = "(root)"

var (
	leadingFence  = regexp.MustCompile("^\\s*```[A-Za-z0-9_-]*[ \\t]*\\r?\\n?")
	trailingFence = regexp.MustCompile("\\s*```\\s*$")
)

// Citation is a web source the model consulted while grounding its answer.
type Citation struct {
	URI   string
	Title string
}

// Options carries the call context the normalizer needs.
type Options struct {
	Mode              model.AnalysisMode
	OriginalReference string
}

// Normalizer turns an untrusted model reply into a validated result.
// It is stateless and safe for concurrent use.
type Normalizer struct {
	schema *gojsonschema.Schema
}

func NewNormalizer() (*Normalizer, error) {
	s, err := validatorSchema()
	if err != nil {
		return nil, err
	}
	return &Normalizer{schema: s}, nil
}

// Normalize parses, validates and enriches raw. No partial result is ever
// returned together with an error.
func (n *Normalizer) Normalize(raw string, citations []Citation, opts Options) (*model.AnalysisResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &Error{Kind: KindEmptyResponse, Message: "model returned no text"}
	}

	body := StripCodeFence(raw)

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Raw: raw, Message: "reply is not valid JSON", Err: err}
	}

	if err := n.validate(body, raw); err != nil {
		return nil, err
	}

	var result model.AnalysisResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, &Error{Kind: KindSchemaViolation, Raw: raw, Message: "reply does not match result shape", Err: err}
	}

	result.ReferenceLinks = MergeReferenceLinks(result.ReferenceLinks, citations, opts.Mode)

	if opts.Mode == model.ModeVideo && result.YoutubeLink == "" {
		result.YoutubeLink = opts.OriginalReference
	}

	return &result, nil
}

func (n *Normalizer) validate(body, raw string) error {
	res, err := n.schema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return &Error{Kind: KindMalformedResponse, Raw: raw, Message: "reply could not be validated", Err: err}
	}
	if res.Valid() {
		return nil
	}

	seen := make(map[string]bool)
	var fields, details []string
	for _, e := range res.Errors() {
		name := violationField(e)
		if !seen[name] {
			seen[name] = true
			fields = append(fields, name)
		}
		details = append(details, e.String())
	}
	sort.Strings(fields)

	return &Error{
		Kind:    KindSchemaViolation,
		Field:   fields[0],
		Fields:  fields,
		Raw:     raw,
		Message: strings.Join(details, "; "),
	}
}

// violationField names the field a schema error refers to. Missing required
// properties are reported by the property itself, not its parent.
func violationField(e gojsonschema.ResultError) string {
	parent := e.Field()
	if e.Type() == "required" {
		if prop, ok := e.Details()["property"].(string); ok {
			if parent == "" || parent == rootContext {
				return prop
			}
			return parent + "." + prop
		}
	}
	if parent == "" {
		return rootContext
	}
	return parent
}

// StripCodeFence removes one leading ```lang fence and one trailing ``` fence.
// Text without fences is returned trimmed and otherwise unchanged.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// MergeReferenceLinks appends citations with a URI to links and drops later
// entries whose url was already seen.
func MergeReferenceLinks(links []model.ReferenceLink, citations []Citation, mode model.AnalysisMode) []model.ReferenceLink {
	defaultTitle := DefaultSearchSourceTitle
	if mode == model.ModeVideo {
		defaultTitle = DefaultConfirmedRefTitle
	}

	merged := make([]model.ReferenceLink, 0, len(links)+len(citations))
	merged = append(merged, links...)
	for _, c := range citations {
		if c.URI == "" {
			continue
		}
		title := c.Title
		if title == "" {
			title = defaultTitle
		}
		merged = append(merged, model.ReferenceLink{Title: title, URL: c.URI})
	}

	seen := make(map[string]struct{}, len(merged))
	out := merged[:0]
	for _, l := range merged {
		if _, ok := seen[l.URL]; ok {
			continue
		}
		seen[l.URL] = struct{}{}
		out = append(out, l)
	}
	return out
}
