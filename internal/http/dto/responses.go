package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type SessionResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

type TOTPEnrollmentResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}
