package analysis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sonicgenius/api/internal/model"
)

// Kind classifies an analysis failure. Every kind is terminal.
type Kind string

const (
	KindInvalidRequest    Kind = "InvalidRequest"
	KindTransportFailure  Kind = "TransportFailure"
	KindEmptyResponse     Kind = "EmptyResponse"
	KindMalformedResponse Kind = "MalformedResponse"
	KindSchemaViolation   Kind = "SchemaViolation"
	KindInputReadFailure  Kind = "InputReadFailure"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrTransportFailure  = &Error{Kind: KindTransportFailure}
	ErrEmptyResponse     = &Error{Kind: KindEmptyResponse}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrSchemaViolation   = &Error{Kind: KindSchemaViolation}
	ErrInputReadFailure  = &Error{Kind: KindInputReadFailure}
)

// Error is returned by every analysis operation.
type Error struct {
	Kind Kind

	// Field is the first offending field for InvalidRequest and SchemaViolation.
	Field string
	// Fields lists every offending field of a SchemaViolation, sorted.
	Fields []string
	// Raw keeps the untouched model reply for MalformedResponse and SchemaViolation.
	Raw string

	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not an analysis error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// InvalidRequestError reports caller input rejected before any model call.
func InvalidRequestError(field, msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Field: field, Message: msg}
}

// TransportError wraps a failure reaching the model.
func TransportError(err error) *Error {
	return &Error{Kind: KindTransportFailure, Message: "model request failed", Err: err}
}

// InputReadError wraps a failure reading caller supplied input.
func InputReadError(err error) *Error {
	return &Error{Kind: KindInputReadFailure, Message: "failed to read input", Err: err}
}

// Describe renders a user facing summary of err for the given mode.
func Describe(err error, mode model.AnalysisMode) string {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindInputReadFailure:
			return "Erro ao ler o arquivo."
		case KindInvalidRequest:
			if e.Message != "" {
				return e.Message
			}
			return "Requisição inválida."
		}
	}
	switch mode {
	case model.ModeVideo:
		return "Erro ao analisar o link do YouTube. Verifique se o vídeo é público e tente novamente."
	case model.ModeAudio:
		return "Erro ao analisar o áudio com a IA."
	default:
		return "Não foi possível realizar a análise. Verifique o nome da música e tente novamente."
	}
}
