package ota

const (
	StatusOK    = "ok"
	StatusError = "error"

	// LogTypeOTA is the type of every legacy bridge log message emitted here.
	LogTypeOTA = "ota_update"
)

// Legacy bridge log statuses.
const (
	LogAvailable         = "available"
	LogNotSupported      = "not_supported"
	LogCheckingAvailable = "checking_if_available"
	LogNotAvailable      = "not_available"
	LogCheckFailed       = "check_failed"
	LogUpdateInProgress  = "update_in_progress"
	LogUpdateProgress    = "update_progress"
	LogUpdateSucceeded   = "update_succeeded"
	LogUpdateFailed      = "update_failed"
)

// ResponseData is the data object of a structured response.
type ResponseData struct {
	ID              string            `json:"id"`
	UpdateAvailable *bool             `json:"updateAvailable,omitempty"`
	From            *FirmwareIdentity `json:"from,omitempty"`
	To              *FirmwareIdentity `json:"to,omitempty"`
}

// Response is published on the structured response topic of an action.
type Response struct {
	Data        ResponseData `json:"data"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Transaction any          `json:"transaction,omitempty"`
}

// LogMessage is a legacy bridge log entry.
type LogMessage struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta"`
}

func newLogMessage(status, device, message string, extra map[string]any) LogMessage {
	meta := map[string]any{"status": status, "device": device}
	for k, v := range extra {
		meta[k] = v
	}
	return LogMessage{Type: LogTypeOTA, Message: message, Meta: meta}
}

func okResponse(data ResponseData, transaction any) Response {
	return Response{Data: data, Status: StatusOK, Transaction: transaction}
}

func errorResponse(data ResponseData, err error, transaction any) Response {
	return Response{Data: data, Status: StatusError, Error: err.Error(), Transaction: transaction}
}
