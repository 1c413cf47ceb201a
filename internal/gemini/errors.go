package gemini

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBootstrapFailed = errors.New("session bootstrap failed")
	ErrTokenNotFound   = errors.New("no access token found on the app page")
	ErrModelInvalid    = errors.New("model rejected by the service")
	ErrDispatchFailed  = errors.New("generation request failed")
)

// Category labels a classified dispatch failure.
type Category string

const (
	CategoryUnclassified       Category = "unclassified"
	CategoryFeatureUnavailable Category = "feature_unavailable_for_account"
)

// malformedPayloadMarker shows up in raw response bodies when the account
// or region has file/image features disabled for the web endpoint.
const malformedPayloadMarker = "af.httprm"

const featureUnavailableHint = "the service returned an unexpected response for this request; " +
	"file/image features may not be enabled for the current account or region, " +
	"or the web endpoint changed"

// ClassifiedError enriches a dispatch failure with a user-facing category
// and hint. It never replaces the underlying error.
type ClassifiedError struct {
	Category Category
	Hint     string
	Err      error
}

func (e *ClassifiedError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%v (%s)", e.Err, e.Hint)
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify maps a failure plus the last captured raw body onto a category.
// Classification only decorates the error; control flow is unchanged and the
// original error remains reachable through Unwrap.
func Classify(err error, rawBody string) *ClassifiedError {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "invalid response data") &&
		strings.Contains(rawBody, malformedPayloadMarker) {
		return &ClassifiedError{
			Category: CategoryFeatureUnavailable,
			Hint:     featureUnavailableHint,
			Err:      err,
		}
	}
	return &ClassifiedError{Category: CategoryUnclassified, Err: err}
}
