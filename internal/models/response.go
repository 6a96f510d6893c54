package models

// APIStatus enumerates the status values of an API response.
type APIStatus string

const (
	// APIStatusOK marks a successful API response.
	APIStatusOK APIStatus = "ok"
	// APIStatusError marks a failed API response.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for API responses.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
