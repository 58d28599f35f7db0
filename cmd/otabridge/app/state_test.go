package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/otabridge/internal/ota"
)

func TestRenderState(t *testing.T) {
	installed, latest, progress := int64(5), int64(7), 42.5

	var buf bytes.Buffer
	require.NoError(t, renderState(&buf, map[string]ota.Record{
		"0x02": {State: ota.StateIdle},
		"0x01": {State: ota.StateUpdating, InstalledVersion: &installed, LatestVersion: &latest, Progress: &progress},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"DEVICE", "STATE", "INSTALLED", "LATEST", "PROGRESS"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"0x01", "updating", "5", "7", "42.50%"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"0x02", "idle", "-", "-", "-"}, strings.Fields(lines[2]))
}

func TestNewAppCommands(t *testing.T) {
	cmd := NewApp().Command()
	assert.Equal(t, "otabridge", cmd.Name())

	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "state")
	assert.Contains(t, names, "version")

	for _, flag := range []string{"mqtt.broker", "mqtt.base-topic", "ota.legacy-api", "ota.update-check-interval", "redis.addr", "s3.endpoint", "config"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), flag)
	}
}
