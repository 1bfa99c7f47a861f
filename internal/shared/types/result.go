package types

// Result is the uniform envelope returned by command operations and HTTP handlers
type Result struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Message string                 `json:"message,omitempty"`
	Error   *string                `json:"error,omitempty"`
}

// Success creates a successful result
func Success(data map[string]interface{}) *Result {
	return &Result{Success: true, Data: data}
}

// Failure creates a failed result
func Failure(message string) *Result {
	msg := message
	return &Result{Success: false, Error: &msg}
}
