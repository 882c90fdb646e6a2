package alarm

import (
	"errors"
	"net/http"

	"github.com/zombor/ocr-alarm/internal/scanning"
	"github.com/zombor/ocr-alarm/internal/timeofday"
)

// ErrAlarmNotFound is returned when no alarm has the requested ID
var ErrAlarmNotFound = errors.New("alarm not found")

// Kind classifies an analysis failure by where it originated
type Kind string

const (
	KindImageLoad   Kind = "image_load_failure"
	KindRecognition Kind = "recognition_failure"
	KindNoTimeFound Kind = "no_time_found"
	KindInvalidTime Kind = "invalid_time"
	KindScheduling  Kind = "scheduling_failure"
)

// AnalysisError is a failure of one step of the analyze pipeline.
// Nothing is scheduled when Analyze returns one.
type AnalysisError struct {
	Kind Kind
	Err  error
}

func (e *AnalysisError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Message is the short status shown to the user
func (e *AnalysisError) Message() string {
	switch e.Kind {
	case KindImageLoad:
		return "Failed to process image"
	case KindRecognition:
		return "Failed to extract text"
	case KindNoTimeFound:
		return "No valid time found"
	case KindInvalidTime:
		return "Found a time that is not a valid hour:minute"
	case KindScheduling:
		return "Failed to schedule task"
	}
	return "Something went wrong"
}

// StatusCode maps the failure to an HTTP status
func (e *AnalysisError) StatusCode() int {
	switch e.Kind {
	case KindImageLoad:
		return http.StatusBadRequest
	case KindRecognition:
		return http.StatusBadGateway
	case KindNoTimeFound, KindInvalidTime:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// recognitionKind separates undecodable uploads from provider failures
func recognitionKind(err error) Kind {
	if errors.Is(err, scanning.ErrImageLoad) {
		return KindImageLoad
	}
	return KindRecognition
}

// extractionKind maps timeofday errors to their kind
func extractionKind(err error) Kind {
	if errors.Is(err, timeofday.ErrNoTimeFound) {
		return KindNoTimeFound
	}
	return KindInvalidTime
}
