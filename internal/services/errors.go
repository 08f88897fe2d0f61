package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFetch         = errors.New("fetch error")
	ErrNotFound      = errors.New("not found")
	ErrTranslation   = errors.New("translation error")
	ErrSynthesis     = errors.New("synthesis error")
	ErrMux           = errors.New("mux error")
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
)

var markers = []error{
	ErrFetch,
	ErrNotFound,
	ErrTranslation,
	ErrSynthesis,
	ErrMux,
	ErrExternalTool,
	ErrValidation,
	ErrConfiguration,
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails is the user-facing summary of a wrapped error.
type ErrorDetails struct {
	Kind    string
	Message string
}

// Details classifies err by its sentinel marker and returns the full message.
// Kind is empty for errors that carry no known marker.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Message: strings.TrimSpace(err.Error())}
	if marker := Marker(err); marker != nil {
		details.Kind = marker.Error()
	}
	return details
}

// Marker returns the first sentinel marker err wraps, or nil.
func Marker(err error) error {
	if err == nil {
		return nil
	}
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return nil
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
