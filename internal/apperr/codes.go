package apperr

// Stable machine-readable error codes exposed to clients. Grouped by
// category; bump Version when adding or changing codes.
const Version = "1.0.0"

const (
	// Validation
	CodeMessageLimit    = "MSG_LIMIT_REACHED"
	CodeInvalidIDFormat = "INVALID_ID_FORMAT"
	CodeMessageTooLong  = "MESSAGE_TOO_LONG"
	CodeFieldRequired   = "FIELD_REQUIRED"
	CodeUnsupportedImage = "UNSUPPORTED_IMAGE_TYPE"
	CodeImageTooLarge    = "IMAGE_TOO_LARGE"

	// Database
	CodeThreadNotFound = "THREAD_NOT_FOUND"
	CodeDatabaseError  = "DATABASE_ERROR"

	// Auth
	CodeForbidden    = "FORBIDDEN"
	CodeUnauthorized = "UNAUTHORIZED"

	// Rate limiting
	CodeTooManyRequests = "TOO_MANY_REQUESTS"

	// AI provider
	CodeProviderTimeout = "OPENAI_TIMEOUT"
	CodeProviderError   = "OPENAI_API_ERROR"

	// Object storage
	CodeUploadFailed  = "S3_UPLOAD_FAILED"
	CodeUploadTimeout = "S3_TIMEOUT"

	// Catch-all
	CodeInternal = "INTERNAL_ERROR"
)
