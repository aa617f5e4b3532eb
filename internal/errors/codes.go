// Package errors provides structured error handling for storefind.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (catalog, cache, analytics)
//   - 3XX: Upstream/network errors (embedding provider, image fetch)
//   - 4XX: Validation and admission errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates catalog, cache, or analytics store errors.
	CategoryStorage Category = "STORAGE"
	// CategoryUpstream indicates embedding provider or network errors.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation and admission errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeQueryTimeout     = "ERR_202_QUERY_TIMEOUT"
	ErrCodeBadFilter        = "ERR_203_BAD_FILTER"
	ErrCodeCacheUnavailable = "ERR_204_CACHE_UNAVAILABLE"
	ErrCodeNotFound         = "ERR_205_NOT_FOUND"

	// Upstream errors (300-399)
	ErrCodeUpstreamUnavailable = "ERR_301_UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamTimeout     = "ERR_302_UPSTREAM_TIMEOUT"
	ErrCodeImageFetch          = "ERR_303_IMAGE_FETCH"

	// Validation errors (400-499)
	ErrCodeInvalidInput  = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty    = "ERR_402_QUERY_EMPTY"
	ErrCodeQueryTooLong  = "ERR_403_QUERY_TOO_LONG"
	ErrCodePriceRange    = "ERR_404_PRICE_RANGE"
	ErrCodeThrottled     = "ERR_405_THROTTLED"
	ErrCodeCancelled     = "ERR_406_CANCELLED"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeIntegrity      = "ERR_502_INTEGRITY"
	ErrCodeEncodingFailed = "ERR_503_ENCODING_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIntegrity:
		// Dimension drift means the index and config disagree; nothing
		// recovers at request scope.
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeUpstreamUnavailable, ErrCodeUpstreamTimeout, ErrCodeThrottled:
		return true
	default:
		return false
	}
}
