package ota

import (
	"errors"
	"fmt"
	"strings"
)

// State is the externally visible update phase of a device.
type State string

const (
	StateIdle      State = "idle"
	StateAvailable State = "available"
	StateUpdating  State = "updating"
)

// Action is the operation requested for a device.
type Action string

const (
	ActionCheck  Action = "check"
	ActionUpdate Action = "update"
)

// ParseAction maps a topic level onto an Action.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(s)) {
	case ActionCheck:
		return ActionCheck, true
	case ActionUpdate:
		return ActionUpdate, true
	}
	return "", false
}

// Flavor is the wire protocol a request arrived on.
type Flavor int

const (
	FlavorCurrent Flavor = iota
	FlavorLegacy
)

func (f Flavor) String() string {
	if f == FlavorLegacy {
		return "legacy"
	}
	return "current"
}

// Record is the per-device update state held by the Ledger.
// Progress and Remaining are set only while State is StateUpdating.
type Record struct {
	State            State    `json:"state"`
	InstalledVersion *int64   `json:"installed_version"`
	LatestVersion    *int64   `json:"latest_version"`
	Progress         *float64 `json:"progress,omitempty"`
	Remaining        *int64   `json:"remaining,omitempty"`
}

func (r Record) clone() Record {
	out := Record{State: r.State}
	if r.InstalledVersion != nil {
		v := *r.InstalledVersion
		out.InstalledVersion = &v
	}
	if r.LatestVersion != nil {
		v := *r.LatestVersion
		out.LatestVersion = &v
	}
	if r.Progress != nil {
		v := *r.Progress
		out.Progress = &v
	}
	if r.Remaining != nil {
		v := *r.Remaining
		out.Remaining = &v
	}
	return out
}

// AvailabilityResult is what a Provider reports for an availability query.
type AvailabilityResult struct {
	Available          bool
	CurrentFileVersion *int64
	OTAFileVersion     *int64
}

// FirmwareIdentity is the software build and date code read from a device.
type FirmwareIdentity struct {
	SoftwareBuildID string `json:"software_build_id"`
	DateCode        string `json:"date_code"`
}

// UpdateOutcome describes a completed update.
type UpdateOutcome struct {
	From        *FirmwareIdentity
	To          *FirmwareIdentity
	FileVersion int64
}

// ImageHint carries what a device reported in its next-image request.
type ImageHint struct {
	ManufacturerCode uint16 `json:"manufacturerCode,omitempty"`
	ImageType        uint16 `json:"imageType,omitempty"`
	FileVersion      int64  `json:"fileVersion,omitempty"`
}

// PendingRequest is one parsed inbound command.
type PendingRequest struct {
	// ID is the device reference exactly as the caller sent it.
	ID          string
	Action      Action
	Transaction any
	Flavor      Flavor
}

// DeviceMessage is a device-originated message delivered to the Trigger.
type DeviceMessage struct {
	Device              Device
	Type                string
	Hint                *ImageHint
	TransactionSequence uint8
}

// MessageQueryNextImage is the Type of a device's next-image request.
const MessageQueryNextImage = "queryNextImageRequest"

var (
	ErrDeviceNotFound = errors.New("device does not exist")
	ErrNotSupported   = errors.New("device does not support OTA updates")
	ErrInProgress     = errors.New("update or check already in progress")
	ErrNoRecord       = errors.New("no update record for device")
	ErrInvalidRequest = errors.New("invalid request")
)

// OperationError is a terminal error reported to a requester. Msg is the
// human-readable text published on the bus; Cause is kept for errors.Is and logging.
type OperationError struct {
	Msg   string
	Cause error
}

func (e *OperationError) Error() string { return e.Msg }

func (e *OperationError) Unwrap() error { return e.Cause }

func newOperationError(cause error, format string, args ...any) *OperationError {
	return &OperationError{Msg: fmt.Sprintf(format, args...), Cause: cause}
}
