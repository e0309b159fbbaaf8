package models

// APIResponse is the envelope every JSON endpoint returns.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Kind classifies a flow failure (discovery, authentication, ...).
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func SuccessResponse(data any) APIResponse {
	return APIResponse{Success: true, Data: data}
}

func ErrorResponse(err string) APIResponse {
	return APIResponse{Success: false, Error: err}
}

// KindErrorResponse reports a failure along with its kind.
func KindErrorResponse(kind, err string) APIResponse {
	return APIResponse{Success: false, Error: err, Kind: kind}
}

func MessageResponse(message string) APIResponse {
	return APIResponse{Success: true, Message: message}
}
