package submission

import (
	"github.com/michaelbrown/runbox/internal/language"
)

// Mode selects the response shape.
type Mode string

const (
	ModeRaw      Mode = "raw"
	ModeEvaluate Mode = "evaluate"
)

// Submission is one validated execution request. It is created by the
// Validator and not modified afterwards.
type Submission struct {
	Code     string
	Language language.Language
	Mode     Mode
	Rubric   string
}

// Request is the wire form of a submission.
type Request struct {
	Code     *string `json:"code" validate:"required"`
	Language string  `json:"language,omitempty" validate:"omitempty,max=32"`
	Mode     string  `json:"mode,omitempty" validate:"omitempty,oneof=raw evaluate"`
	Rubric   string  `json:"rubric,omitempty" validate:"omitempty,max=128"`
}
