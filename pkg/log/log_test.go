package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "info", "warn", "error"} {
		l, err := ParseLevel(s)
		require.NoError(t, err)
		assert.Equal(t, Level(s), l)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
	_, err = ParseLevel("")
	assert.Error(t, err)
}

func TestInitJSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	brokerLog := WithComponent("broker")
	brokerLog.Info().Msg("hidden")
	assert.Zero(t, buf.Len(), "info is below warn")

	bridgeLog := WithBridgeID("b-1")
	bridgeLog.Warn().Msg("link down")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "b-1", line["bridge_id"])
	assert.Equal(t, "link down", line["message"])
	assert.Contains(t, line, "time")
}

func TestContextFields(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	Init(Config{Level: Level("bogus"), JSONOutput: true, Output: &buf})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	epLog := WithEndpointID(7)
	epLog.Info().Msg("opened")
	netLog := WithNetworkID(3)
	netLog.Info().Msg("bridged")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var ep, net map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &ep))
	require.NoError(t, json.Unmarshal(lines[1], &net))
	assert.EqualValues(t, 7, ep["endpoint_id"])
	assert.EqualValues(t, 3, net["network_id"])
}
