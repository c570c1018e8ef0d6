package analysis

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Soft length limit of the production DNA and the point where callers are warned.
const (
	StyleDescriptionLimit = 1000
	StyleDescriptionWarn  = 900
)

type nodeType string

const (
	typeObject nodeType = "object"
	typeArray  nodeType = "array"
	typeString nodeType = "string"
	typeNumber nodeType = "number"
)

type field struct {
	name     string
	node     *node
	optional bool
}

// node is a single schema tree rendered both as the model's responseSchema
// and as a JSON Schema used to validate replies.
type node struct {
	typ         nodeType
	description string
	fields      []field
	items       *node
	minimum     *float64
	maximum     *float64
	exclusive   bool
}

func str() *node { return &node{typ: typeString} }
func strDesc(desc string) *node { return &node{typ: typeString, description: desc} }
func strList() *node { return &node{typ: typeArray, items: str()} }
func num() *node { return &node{typ: typeNumber} }
func arrayOf(item *node) *node { return &node{typ: typeArray, items: item} }
func object(fields ...field) *node { return &node{typ: typeObject, fields: fields} }
func req(name string, n *node) field { return field{name: name, node: n} }
func opt(name string, n *node) field { return field{name: name, node: n, optional: true} }

func bounded(n *node, lo, hi *float64, exclusiveLo bool) *node {
	n.minimum = lo
	n.maximum = hi
	n.exclusive = exclusiveLo
	return n
}

func ptr(f float64) *float64 { return &f }

var analysisSchema = object(
	req("title", str()),
	req("artist", str()),
	req("genres", arrayOf(object(
		req("name", str()),
		req("percentage", bounded(num(), ptr(0), ptr(100), false)),
		req("description", str()),
	))),
	req("bpm", bounded(num(), ptr(0), nil, true)),
	req("key", str()),
	req("mood", strList()),
	req("instrumentation", strList()),
	req("historicalContext", str()),
	req("technicalAnalysis", str()),
	req("similarArtists", strList()),
	req("vibeDescription", str()),
	req("drumAnalysis", str()),
	req("bassAnalysis", str()),
	req("rhythmAnalysis", str()),
	req("styleAnalysis", str()),
	req("harmonicInstruments", strList()),
	req("timbreAnalysis", str()),
	req("dynamicsAnalysis", str()),
	req("chordProgression", str()),
	req("tonalityAnalysis", str()),
	req("vocalRange", str()),
	req("vocalTimbre", str()),
	req("vocalTechnique", str()),
	req("environment", str()),
	req("productionAnalysis", str()),
	req("mixAnalysis", str()),
	req("masteringAnalysis", str()),
	req("lyricsAnalysis", str()),
	req("structureAnalysis", str()),
	req("singerGenreStyle", str()),
	req("stylePrompt", str()),
	req("sunoStyleDescription", strDesc(
		"Mandatory production DNA for Suno AI. MUST start with BPM, key and vibe/mood. At most 1000 characters.")),
	req("detailedMusicalStyle", strDesc(
		"Faithful description of the musical style for the matching field of other generation models.")),
	req("suggestedMixStyle", strDesc(
		"A complementary or innovative musical style that would blend well with the original DNA to create a unique crossover.")),
	opt("youtubeLink", str()),
	opt("referenceLinks", arrayOf(object(
		req("title", str()),
		req("url", str()),
	))),
)

// ResponseSchema returns the schema in the model's structured-output dialect
// (upper-case OpenAPI subset types).
func ResponseSchema() map[string]any {
	return analysisSchema.modelSchema()
}

// JSONSchema returns the draft-07 JSON Schema replies are validated against.
func JSONSchema() map[string]any {
	s := analysisSchema.jsonSchema()
	s["$schema"] = "http://json-schema.org/draft-07/schema#"
	return s
}

// RequiredFields lists the top-level fields every reply must carry.
func RequiredFields() []string {
	return analysisSchema.required()
}

func (n *node) required() []string {
	var out []string
	for _, f := range n.fields {
		if !f.optional {
			out = append(out, f.name)
		}
	}
	return out
}

func (n *node) modelSchema() map[string]any {
	m := map[string]any{
		"type": modelType(n.typ),
	}
	if n.description != "" {
		m["description"] = n.description
	}
	switch n.typ {
	case typeObject:
		props := make(map[string]any, len(n.fields))
		order := make([]string, 0, len(n.fields))
		for _, f := range n.fields {
			props[f.name] = f.node.modelSchema()
			order = append(order, f.name)
		}
		m["properties"] = props
		m["propertyOrdering"] = order
		if r := n.required(); len(r) > 0 {
			m["required"] = r
		}
	case typeArray:
		m["items"] = n.items.modelSchema()
	}
	return m
}

func modelType(t nodeType) string {
	switch t {
	case typeObject:
		return "OBJECT"
	case typeArray:
		return "ARRAY"
	case typeNumber:
		return "NUMBER"
	default:
		return "STRING"
	}
}

func (n *node) jsonSchema() map[string]any {
	m := map[string]any{
		"type": string(n.typ),
	}
	if n.description != "" {
		m["description"] = n.description
	}
	switch n.typ {
	case typeObject:
		props := make(map[string]any, len(n.fields))
		for _, f := range n.fields {
			prop := f.node.jsonSchema()
			// Optional fields may be sent as null and are then treated as absent.
			if f.optional {
				prop["type"] = []any{prop["type"], "null"}
			}
			props[f.name] = prop
		}
		m["properties"] = props
		if r := n.required(); len(r) > 0 {
			m["required"] = r
		}
	case typeArray:
		m["items"] = n.items.jsonSchema()
	case typeNumber:
		if n.minimum != nil {
			if n.exclusive {
				m["exclusiveMinimum"] = *n.minimum
			} else {
				m["minimum"] = *n.minimum
			}
		}
		if n.maximum != nil {
			m["maximum"] = *n.maximum
		}
	}
	return m
}

var (
	compiledOnce   sync.Once
	compiledSchema *gojsonschema.Schema
	compileErr     error
)

func validatorSchema() (*gojsonschema.Schema, error) {
	compiledOnce.Do(func() {
		raw, err := json.Marshal(JSONSchema())
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}
