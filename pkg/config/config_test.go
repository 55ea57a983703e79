package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arzzra/sdp_negotiator/pkg/connector"
	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
account:
  user_name: alice
  host: 192.168.1.10
network:
  min_port: 20000
  max_port: 20100
  port_step: 2
  strategy: random
  max_sessions: 10
  session_timeout: 30s
security:
  hash_enabled: true
devices:
  audio:
    name: mic
    direction: sendonly
    formats:
      - encoding: PCMU
        clock_rate: 8000
      - encoding: opus
        clock_rate: 48000
        channels: 2
        params: minptime=10
    extensions:
      - uri: urn:ietf:params:rtp-hdrext:ssrc-audio-level
        direction: sendonly
preferences:
  audio: recvonly
log_level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sdpneg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	file, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", file.Account.Host)
	assert.Equal(t, uint16(10000), file.Network.MinPort)
	assert.Equal(t, uint16(20000), file.Network.MaxPort)
	assert.Equal(t, 5*time.Minute, file.Network.SessionTimeout)
	assert.Equal(t, "info", file.LogLevel)
	assert.Len(t, file.Devices, 2)

	registry, err := file.DeviceRegistry()
	require.NoError(t, err)
	_, ok := registry.DefaultDevice(negotiation.MediaTypeAudio)
	assert.True(t, ok)
	_, ok = registry.DefaultDevice(negotiation.MediaTypeVideo)
	assert.True(t, ok)
}

func TestLoadFile(t *testing.T) {
	file, err := Load(writeConfig(t, testYAML))
	require.NoError(t, err)

	config, err := file.ManagerConfig()
	require.NoError(t, err)
	assert.Equal(t, "alice", config.UserName)
	assert.Equal(t, "192.168.1.10", config.LocalHost)
	assert.Equal(t, uint16(20000), config.MinPort)
	assert.Equal(t, connector.PortAllocationRandom, config.PortAllocationStrategy)
	assert.Equal(t, 10, config.MaxSessions)
	assert.Equal(t, 30*time.Second, config.SessionTimeout)
	assert.True(t, config.SecurityHashEnabled)
	assert.Equal(t, "SoftPhone Call", config.SessionName)

	registry, err := file.DeviceRegistry()
	require.NoError(t, err)
	device, ok := registry.DefaultDevice(negotiation.MediaTypeAudio)
	require.True(t, ok)
	assert.Equal(t, negotiation.DirectionSendOnly, device.Direction())

	formats := device.SupportedFormats()
	require.Len(t, formats, 2)
	assert.Equal(t, "PCMU", formats[0].Encoding)
	assert.Equal(t, 1, formats[0].Channels)
	assert.Equal(t, 2, formats[1].Channels)
	assert.Equal(t, "minptime=10", formats[1].Params)

	extensions := device.SupportedExtensions()
	require.Len(t, extensions, 1)
	assert.Equal(t, negotiation.DirectionSendOnly, extensions[0].Direction)

	_, ok = registry.DefaultDevice(negotiation.MediaTypeVideo)
	assert.False(t, ok, "видео устройство в файле не описано")

	prefs := file.BuildPreferences()
	assert.Equal(t, negotiation.DirectionRecvOnly, prefs.DirectionPreference(negotiation.MediaTypeAudio))
	assert.Equal(t, negotiation.DirectionSendRecv, prefs.DirectionPreference(negotiation.MediaTypeVideo))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SDPNEG_ACCOUNT_HOST", "10.1.1.1")
	t.Setenv("SDPNEG_NETWORK_MAX_SESSIONS", "7")

	file, err := Load(writeConfig(t, testYAML))
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", file.Account.Host)
	assert.Equal(t, 7, file.Network.MaxSessions)
	assert.Equal(t, "alice", file.Account.UserName)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	tests := []struct {
		name    string
		content string
	}{
		{"плохой адрес", "account:\n  host: not-an-ip\n"},
		{"нечетный порт", "network:\n  min_port: 10001\n"},
		{"перепутанный диапазон", "network:\n  min_port: 30000\n  max_port: 20000\n"},
		{"неизвестная стратегия", "network:\n  strategy: round-robin\n"},
		{"неизвестное направление", "preferences:\n  audio: both\n"},
		{"неизвестный тип медиа", "devices:\n  text:\n    direction: sendrecv\n    formats:\n      - encoding: T140\n        clock_rate: 1000\n"},
		{"формат без частоты", "devices:\n  audio:\n    direction: sendrecv\n    formats:\n      - encoding: PCMU\n"},
		{"уровень логов", "log_level: verbose\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoggerFactory(t *testing.T) {
	file, err := Load("")
	require.NoError(t, err)
	file.LogLevel = "warn"

	var buf bytes.Buffer
	log := file.LoggerFactory(&buf).NewLogger("test")
	log.Info("скрыто")
	log.Warn("видно")

	assert.NotContains(t, buf.String(), "скрыто")
	assert.Contains(t, buf.String(), "видно")
}
