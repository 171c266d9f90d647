package submission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/michaelbrown/runbox/internal/language"
)

// ValidationError is a client-attributable rejection. No sandbox resources
// have been spent when one is returned.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func reject(status int, format string, args ...any) *ValidationError {
	return &ValidationError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// OversizePolicy decides what happens to code above the byte ceiling.
type OversizePolicy string

const (
	OversizeReject OversizePolicy = "reject"
	OversizeAccept OversizePolicy = "accept"
)

// RubricLookup reports whether a rubric id exists.
type RubricLookup func(id string) bool

// Options configures a Validator.
type Options struct {
	MaxCodeBytes   int
	OversizePolicy OversizePolicy
	DefaultRubric  string
}

// Validator turns raw request bodies into Submissions.
type Validator struct {
	opts      Options
	languages *language.Registry
	rubrics   RubricLookup
	validate  *validator.Validate
}

func NewValidator(opts Options, languages *language.Registry, rubrics RubricLookup) *Validator {
	if opts.DefaultRubric == "" {
		opts.DefaultRubric = "default"
	}
	if opts.OversizePolicy == "" {
		opts.OversizePolicy = OversizeReject
	}
	if rubrics == nil {
		rubrics = func(string) bool { return false }
	}
	return &Validator{
		opts:      opts,
		languages: languages,
		rubrics:   rubrics,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Parse validates a request body. The returned error is always a
// *ValidationError.
func (v *Validator) Parse(body []byte) (Submission, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Submission{}, reject(http.StatusBadRequest, "request body is empty")
	}
	if trimmed[0] != '{' {
		return Submission{}, reject(http.StatusBadRequest, "invalid JSON request body: expected an object")
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return Submission{}, reject(http.StatusBadRequest, "field %s must be a %s", typeErr.Field, typeErr.Type.String())
		}
		return Submission{}, reject(http.StatusBadRequest, "invalid JSON request body: %v", err)
	}
	return v.Validate(req)
}

// Validate checks an already-decoded request.
func (v *Validator) Validate(req Request) (Submission, error) {
	req.Mode = strings.ToLower(strings.TrimSpace(req.Mode))
	if err := v.validate.Struct(req); err != nil {
		return Submission{}, v.fieldError(err)
	}

	code := *req.Code
	if code == "" {
		return Submission{}, reject(http.StatusBadRequest, "code is required")
	}
	if len(code) > v.opts.MaxCodeBytes && v.opts.OversizePolicy == OversizeReject {
		return Submission{}, reject(http.StatusRequestEntityTooLarge, "code exceeds %d bytes", v.opts.MaxCodeBytes)
	}

	lang, err := v.languages.Resolve(req.Language)
	if err != nil {
		return Submission{}, reject(http.StatusBadRequest, "Unsupported language: %s", req.Language)
	}

	sub := Submission{
		Code:     code,
		Language: lang,
		Mode:     Mode(req.Mode),
	}
	if sub.Mode == "" {
		sub.Mode = ModeRaw
	}

	if sub.Mode == ModeEvaluate {
		sub.Rubric = req.Rubric
		if sub.Rubric == "" {
			sub.Rubric = v.opts.DefaultRubric
		}
		if !v.rubrics(sub.Rubric) {
			return Submission{}, reject(http.StatusBadRequest, "unknown rubric: %s", sub.Rubric)
		}
	}
	return sub, nil
}

func (v *Validator) fieldError(err error) *ValidationError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return reject(http.StatusBadRequest, "invalid request: %v", err)
	}

	fe := errs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return reject(http.StatusBadRequest, "%s is required", field)
	case "oneof":
		return reject(http.StatusBadRequest, "unsupported %s: %v (expected raw or evaluate)", field, fe.Value())
	case "max":
		return reject(http.StatusBadRequest, "%s is too long", field)
	}
	return reject(http.StatusBadRequest, "invalid %s", field)
}
