package dto

// Error codes returned by the API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeProcessingError = "PROCESSING_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeNotFound        = "NOT_FOUND"
)

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func NewError(message, code string) ErrorResponse {
	return ErrorResponse{Success: false, Error: message, Code: code}
}

// ListResponse wraps a paginated collection.
type ListResponse struct {
	Items  any   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
