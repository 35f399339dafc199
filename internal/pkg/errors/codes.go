package errors

// Error code constants. Errors carry code + message; the backend logs
// always in English.

// Saga lifecycle error codes.
const (
	CodeSagaTypeUnknown = "SAGA_TYPE_UNKNOWN"
	CodeSagaNotFound    = "SAGA_NOT_FOUND"
	CodeSagaDuplicate   = "SAGA_DUPLICATE"
	CodeSagaTerminal    = "SAGA_ALREADY_TERMINAL"
)

// Event store error codes.
const (
	CodeEventDuplicate  = "EVENT_DUPLICATE"
	CodeVersionConflict = "SAGA_VERSION_CONFLICT"
	CodeStoreFailure    = "EVENT_STORE_FAILURE"
)

// Transport error codes.
const (
	CodePublishFailure = "BROKER_PUBLISH_FAILED"
	CodeDecodeFailure  = "MESSAGE_DECODE_FAILED"
)

// Validation error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
)

// Generic error codes.
const (
	CodeInternal = "INTERNAL_ERROR"
)
