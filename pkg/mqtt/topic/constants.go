package topic

// MQTT wildcard and shared-subscription tokens.
const (
	// Wildcard matches exactly one topic level.
	// "otabridge/v1/ota/request/+" matches "otabridge/v1/ota/request/0x01".
	Wildcard = "+"

	// MultiWildcard matches the current level and everything below it; it must come last.
	// "zigbee2mqtt/bridge/ota_update/#" matches "zigbee2mqtt/bridge/ota_update/update".
	MultiWildcard = "#"

	// SharePrefix starts a shared subscription filter: $share/{group}/{filter}.
	SharePrefix = "$share/"
)
