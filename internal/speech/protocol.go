package speech

// Frames exchanged with a device over the WebSocket bridge

// Bridge methods
const (
	MethodRecognize = "recognize"
	MethodSpeak     = "speak"
	MethodCancel    = "cancel"
)

// Device error codes
const (
	CodeNoSpeech         = "no_speech"
	CodePermissionDenied = "permission_denied"
	CodeAborted          = "aborted"
)

// Request is sent from the bridge to the device
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Text   string `json:"text,omitempty"` // For speak
	Lang   string `json:"lang,omitempty"`
}

// Response is sent by the device when a request completes
type Response struct {
	ID    string       `json:"id"`
	Text  string       `json:"text,omitempty"` // Recognized text
	Error *DeviceError `json:"error,omitempty"`
}

// DeviceError describes a failed request
type DeviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
