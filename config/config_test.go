package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ltelink/linkctl"
	"ltelink/psm"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
modem:
  port: /dev/ttyUSB2
  command_timeout: 5s
  power_key: GPIO23
link:
  network_mode: ltem
  timeout: 2m
  fallback: false
  edrx:
    act_type: 4
    value: "0101"
  psm:
    periodic_tau: 1h
    active_time: "00100101"
  plmn: "24201"
  pdp_context: '0,"IP","iot.example"'
log_level: debug
db: /tmp/ltelink.db
poll_interval: 1m
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB2", f.Modem.Port)
	assert.Equal(t, 115200, f.Modem.Baud, "default kept")
	assert.Equal(t, 5*time.Second, f.Modem.CommandTimeout)
	assert.Equal(t, "GPIO23", f.Modem.PowerKey)
	assert.Equal(t, time.Second, f.Modem.PowerPulse)
	assert.Equal(t, 2*time.Minute, f.Link.Timeout)
	assert.False(t, f.Link.Fallback)
	assert.Equal(t, time.Minute, f.PollInterval)

	cfg, err := f.LinkConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, linkctl.Modes{Preferred: "AT%XSYSTEMMODE=1,0,0,0", Fallback: "AT%XSYSTEMMODE=0,1,0,0"}, cfg.Modes)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, linkctl.PSM{PeriodicTAU: "00000110", ActiveTime: "00100101"}, cfg.PSM)
	assert.Equal(t, linkctl.EDRX{ActType: 4, Value: "0101"}, cfg.EDRX)
	assert.Equal(t, "24201", cfg.PLMN)
	assert.Equal(t, `0,"IP","iot.example"`, cfg.PDPContext)

	mc := f.ModemConfig(nil)
	assert.Equal(t, "/dev/ttyUSB2", mc.Port)
	assert.Equal(t, 5*time.Second, mc.CommandTimeout)
}

func TestDefaults(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), *f)

	cfg, err := f.LinkConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "AT%XSYSTEMMODE=0,1,0,0", cfg.Modes.Preferred)
	assert.True(t, cfg.UseFallback)
	assert.Equal(t, linkctl.DefaultTimeout, cfg.Timeout)
}

func TestExplicitCommandsOverridePreset(t *testing.T) {
	f, err := Parse([]byte(`
link:
  network_mode: ""
  preferred_command: AT+CMODE=1
  fallback_command: AT+CMODE=2
`))
	require.NoError(t, err)

	cfg, err := f.LinkConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, linkctl.Modes{Preferred: "AT+CMODE=1", Fallback: "AT+CMODE=2"}, cfg.Modes)
}

func TestLinkConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"UnknownPreset", "link: {network_mode: 5g}", linkctl.ErrInvalidArgument},
		{"FallbackWithoutCommand", "link: {network_mode: '', preferred_command: AT+X}", linkctl.ErrInvalidArgument},
		{"BadEDRX", "link: {edrx: {value: '12'}}", linkctl.ErrInvalidArgument},
		{"TAUNotRepresentable", "link: {psm: {periodic_tau: 7s}}", psm.ErrNotRepresentable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)

			_, err = f.LinkConfig(nil)
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	f, err := Parse([]byte("link: {psm: {active_time: soon}}"))
	require.NoError(t, err)
	_, err = f.LinkConfig(nil)
	assert.ErrorContains(t, err, "link.psm.active_time")
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{
		"modem: [",
		"log_level: loud",
		"poll_interval: -1s",
		"link: {timeout: soon}",
	} {
		_, err := Parse([]byte(in))
		var le *LoadError
		assert.ErrorAs(t, err, &le, in)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ltem", f.Link.NetworkMode)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, le.File, "missing.yaml")

	require.NoError(t, os.WriteFile(path, []byte("log_level: loud"), 0o600))
	_, err = Load(path)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, path, le.File)
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]logging.LogLevel{
		"off":   logging.LogLevelDisabled,
		"ERROR": logging.LogLevelError,
		"warn":  logging.LogLevelWarn,
		"":      logging.LogLevelInfo,
		"debug": logging.LogLevelDebug,
		"trace": logging.LogLevelTrace,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
}
