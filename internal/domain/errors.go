package domain

// ErrorKind is the closed classification for dispatch and ingestion
// failures. String messages vary by provider; callers branch on the kind.
type ErrorKind string

const (
	ErrNone               ErrorKind = ""
	ErrRateLimitExceeded  ErrorKind = "RATE_LIMIT_EXCEEDED"       // admission denied, back off until reset
	ErrProviderValidation ErrorKind = "PROVIDER_VALIDATION_ERROR" // provider 4xx, do not retry
	ErrProviderServer     ErrorKind = "PROVIDER_SERVER_ERROR"     // provider 5xx, retryable
	ErrHTTPTimeout        ErrorKind = "HTTP_TIMEOUT"              // transport/timeout failure, retryable
	ErrInvalidSignature   ErrorKind = "INVALID_SIGNATURE"         // webhook security rejection
	ErrMalformedPayload   ErrorKind = "MALFORMED_PAYLOAD"         // recovered locally, never a hard failure
	ErrUnknownEventType   ErrorKind = "UNKNOWN_EVENT_TYPE"        // logged and acknowledged
)

// Retryable reports whether a caller seeing this kind should try again later.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrRateLimitExceeded, ErrProviderServer, ErrHTTPTimeout:
		return true
	default:
		return false
	}
}
