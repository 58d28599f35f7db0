package fleet

import (
	"github.com/autopeer-io/otabridge/internal/ota"
)

// CommandType is the directive carried in a Command.
type CommandType string

const (
	CommandReadIdentity CommandType = "read_identity"
	CommandOTAUpdate    CommandType = "ota_update"
	CommandReconfigure  CommandType = "reconfigure"
)

// StatusNoImageAvailable is the status a device receives when the bridge
// answers its next-image request itself.
const StatusNoImageAvailable = 0x98

// Registration is what a device agent announces on the register topic.
type Registration struct {
	ID           string `json:"id"`
	FriendlyName string `json:"friendlyName,omitempty"`
	Model        string `json:"model,omitempty"`

	// Supported reports whether the agent implements the OTA commands.
	Supported bool `json:"ota"`

	ManufacturerCode uint16                `json:"manufacturerCode,omitempty"`
	ImageType        uint16                `json:"imageType,omitempty"`
	FileVersion      *int64                `json:"fileVersion,omitempty"`
	Firmware         *ota.FirmwareIdentity `json:"firmware,omitempty"`
}

// Command is sent to {root}/command/{id}.
type Command struct {
	CommandID   string      `json:"commandId"`
	Type        CommandType `json:"type"`
	URL         string      `json:"url,omitempty"`
	FileVersion int64       `json:"fileVersion,omitempty"`
}

// Ack is received on {root}/command/ack/{id}.
type Ack struct {
	CommandID   string                `json:"commandId"`
	Success     bool                  `json:"success"`
	Error       string                `json:"error,omitempty"`
	FileVersion int64                 `json:"fileVersion,omitempty"`
	Firmware    *ota.FirmwareIdentity `json:"firmware,omitempty"`
}

// Progress is received on {root}/ota/progress/{id}. Remaining is in seconds.
type Progress struct {
	CommandID string  `json:"commandId"`
	Progress  float64 `json:"progress"`
	Remaining float64 `json:"remaining,omitempty"`
}

// OTARequest is a device-originated OTA message on {root}/ota/request/{id}.
type OTARequest struct {
	Type                      string `json:"type"`
	TransactionSequenceNumber uint8  `json:"transactionSequenceNumber"`
	ManufacturerCode          uint16 `json:"manufacturerCode,omitempty"`
	ImageType                 uint16 `json:"imageType,omitempty"`
	FileVersion               int64  `json:"fileVersion,omitempty"`
}

// OTAResponse answers an OTARequest on {root}/ota/response/{id}.
type OTAResponse struct {
	Status                    int   `json:"status"`
	TransactionSequenceNumber uint8 `json:"transactionSequenceNumber"`
}
