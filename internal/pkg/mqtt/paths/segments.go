package paths

// Topic segments of the device agent protocol.
// All agent topics are {root}/{segment}/{deviceID}.

// Downstream: bridge -> device.
const (
	// Command carries directives (identity read, firmware update) to a device agent.
	// Pattern: {root}/command/{deviceID}
	Command = "command"

	// OTAResponse answers a device's next-image request.
	// Payload: { "status": 152, "transactionSequenceNumber": 12 }
	// Pattern: {root}/ota/response/{deviceID}
	OTAResponse = "ota/response"
)

// Upstream: device -> bridge.
const (
	// Register announces a device and its capabilities.
	// Pattern: {root}/register/{deviceID}
	Register = "register"

	// CommandAck reports the outcome of a command.
	// Pattern: {root}/command/ack/{deviceID}
	CommandAck = "command/ack"

	// OTARequest is the device's unsolicited "query next image" signal.
	// Payload: { "type": "queryNextImageRequest", "transactionSequenceNumber": 12, ... }
	// Pattern: {root}/ota/request/{deviceID}
	OTARequest = "ota/request"

	// OTAProgress reports transfer progress for a running update command.
	// Payload: { "commandId": "...", "progress": 50.5, "remaining": 120 }
	// Pattern: {root}/ota/progress/{deviceID}
	OTAProgress = "ota/progress"
)

// Bridge topic levels below the public base topic.
const (
	// OTARequestCurrent is the request/response API: {base}/bridge/request/device/ota_update/{action}.
	OTARequestCurrent = "bridge/request/device/ota_update"

	// OTAResponseCurrent is where responses to OTARequestCurrent are published.
	OTAResponseCurrent = "bridge/response/device/ota_update"

	// OTALegacy is the legacy free-form API: {base}/bridge/ota_update/{action}.
	OTALegacy = "bridge/ota_update"

	// BridgeLog carries legacy informational messages.
	BridgeLog = "bridge/log"

	// BridgeEvent carries lifecycle events for external subscribers.
	BridgeEvent = "bridge/event"

	// BridgeDevices carries the retained device list.
	BridgeDevices = "bridge/devices"
)

// GroupBridge is the shared subscription group for bridge replicas.
const GroupBridge = "otabridge"
