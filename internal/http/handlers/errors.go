// HTTP-layer error codes shared by all endpoints. Codes are lowercase
// snake_case; generic ones mirror common status semantics, domain-specific
// ones cover failures status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeSaveFailed   = "save_failed"
	ErrCodeDeleteFailed = "delete_failed"
	ErrCodeSyncFailed   = "sync_failed"
	ErrCodeUploadFailed = "upload_failed"
)
