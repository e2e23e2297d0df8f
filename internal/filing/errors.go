package filing

import (
	"errors"
	"fmt"

	"github.com/yourorg/efile/internal/mef"
)

// Stage names one step of the filing pipeline.
type Stage string

const (
	StageBuild    Stage = "build"
	StageValidate Stage = "validate"
	StageSign     Stage = "sign"
	StageSubmit   Stage = "submit"
	StageRecord   Stage = "record"
)

var (
	ErrValidationFailed = errors.New("return failed validation")
	ErrStatusRegression = errors.New("status would move backwards")
	ErrTaxYearRequired  = errors.New("tax year is required")
	ErrEFINRequired     = errors.New("EFIN is required")
)

// StageError reports the pipeline step that stopped a filing. Validation is
// set when the validate stage failed.
type StageError struct {
	Stage      Stage
	Err        error
	Validation *mef.ValidationResult
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
