package dto

// SessionRequest issues a device-bound session token.
type SessionRequest struct {
	Email     string `json:"email"`
	DeviceID  string `json:"device_id"`
	PublicKey string `json:"public_key,omitempty"`
	DeviceKey string `json:"device_key,omitempty"`
}

// SignedOperationRequest — общий конверт подписанной операции. Body — это
// ровно те байты, что вошли в каноническое сообщение на клиенте.
type SignedOperationRequest struct {
	Operation   string         `json:"operation"`
	TimestampMS int64          `json:"timestamp_ms"`
	Nonce       string         `json:"nonce"`
	Signature   string         `json:"signature"`
	SessionID   string         `json:"session_id,omitempty"`
	Body        map[string]any `json:"body"`
}

type RegisterDeviceRequest struct {
	DeviceID  string         `json:"device_id"`
	PublicKey string         `json:"public_key"`
	DeviceKey string         `json:"device_key,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ConfirmTOTPRequest struct {
	Code string `json:"code"`
}

type EnableMethodRequest struct {
	Method string `json:"method"`
}

type RecoveryRequestRequest struct {
	Email    string `json:"email"`
	DeviceID string `json:"device_id"`
}

type RecoveryApproveRequest struct {
	Token              string `json:"token"`
	DeviceID           string `json:"device_id"`
	SessionID          string `json:"session_id,omitempty"`
	TimestampMS        int64  `json:"timestamp_ms,omitempty"`
	DeviceKeySignature string `json:"device_key_signature,omitempty"`
}

type RecoveryFinalizeRequest struct {
	TicketID string `json:"ticket_id"`
	DeviceID string `json:"device_id"`
}

type SetDeviceKeyRequest struct {
	DeviceKey string `json:"device_key"`
}
