// Package config loads the daemon configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ltelink/linkctl"
	"ltelink/modem"
	"ltelink/psm"

	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// LoadError describes a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.File != "" {
		b.WriteString(" ")
		b.WriteString(e.File)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Cause }

type File struct {
	Modem        Modem         `yaml:"modem"`
	Link         Link          `yaml:"link"`
	LogLevel     string        `yaml:"log_level"`
	DB           string        `yaml:"db"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Modem struct {
	Port           string        `yaml:"port"`
	Baud           int           `yaml:"baud"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// PowerKey names the GPIO wired to the modem power key. Empty skips the
	// power on pulse.
	PowerKey   string        `yaml:"power_key"`
	PowerPulse time.Duration `yaml:"power_pulse"`
}

type Link struct {
	// NetworkMode is a preset name. PreferredCommand and FallbackCommand
	// override the preset when set.
	NetworkMode      string        `yaml:"network_mode"`
	PreferredCommand string        `yaml:"preferred_command"`
	FallbackCommand  string        `yaml:"fallback_command"`
	Timeout          time.Duration `yaml:"timeout"`
	Fallback         bool          `yaml:"fallback"`

	EDRX EDRX `yaml:"edrx"`
	PSM  PSM  `yaml:"psm"`

	ModemTrace bool   `yaml:"modem_trace"`
	BandMask   string `yaml:"band_mask"`
	PLMN       string `yaml:"plmn"`
	LegacyPCO  bool   `yaml:"legacy_pco"`
	PDPContext string `yaml:"pdp_context"`
	PDNAuth    string `yaml:"pdn_auth"`
}

type EDRX struct {
	RequestOnInit bool   `yaml:"request_on_init"`
	ActType       int    `yaml:"act_type"`
	Value         string `yaml:"value"`
}

// PSM timers are given either as raw 8-bit fields ("00000110") or as
// durations ("1h") that are encoded for the modem.
type PSM struct {
	RequestOnStart bool   `yaml:"request_on_start"`
	PeriodicTAU    string `yaml:"periodic_tau"`
	ActiveTime     string `yaml:"active_time"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() File {
	return File{
		Modem: Modem{
			Port:           "/dev/ttyACM0",
			Baud:           modem.DefaultBaud,
			CommandTimeout: modem.DefaultCommandTimeout,
			PowerPulse:     time.Second,
		},
		Link: Link{
			NetworkMode: "nbiot",
			Timeout:     linkctl.DefaultTimeout,
			Fallback:    true,
		},
		LogLevel:     "info",
		DB:           "kvstore.db",
		PollInterval: 15 * time.Minute,
	}
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*File, error) {
	f := Default()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if _, err := ParseLogLevel(f.LogLevel); err != nil {
		return nil, &LoadError{Message: "invalid log_level", Cause: err}
	}
	if f.PollInterval < 0 {
		return nil, &LoadError{Message: fmt.Sprintf("negative poll_interval %s", f.PollInterval)}
	}
	return &f, nil
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	f, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
		}
		return nil, err
	}
	return f, nil
}

// ModemConfig returns the command channel settings.
func (f *File) ModemConfig(lf logging.LoggerFactory) modem.Config {
	return modem.Config{
		Port:           f.Modem.Port,
		Baud:           f.Modem.Baud,
		CommandTimeout: f.Modem.CommandTimeout,
		LoggerFactory:  lf,
	}
}

// LinkConfig resolves presets and PSM durations into a validated
// linkctl.Config.
func (f *File) LinkConfig(lf logging.LoggerFactory) (linkctl.Config, error) {
	l := f.Link

	var modes linkctl.Modes
	if l.NetworkMode != "" {
		m, err := linkctl.ModesFor(l.NetworkMode)
		if err != nil {
			return linkctl.Config{}, &LoadError{Message: "link.network_mode", Cause: err}
		}
		modes = m
	}
	if l.PreferredCommand != "" {
		modes.Preferred = l.PreferredCommand
	}
	if l.FallbackCommand != "" {
		modes.Fallback = l.FallbackCommand
	}

	tau, err := psmField(l.PSM.PeriodicTAU, psm.TAUTable)
	if err != nil {
		return linkctl.Config{}, &LoadError{Message: "link.psm.periodic_tau", Cause: err}
	}
	active, err := psmField(l.PSM.ActiveTime, psm.ActiveTimeTable)
	if err != nil {
		return linkctl.Config{}, &LoadError{Message: "link.psm.active_time", Cause: err}
	}

	cfg := linkctl.Config{
		Modes:       modes,
		Timeout:     l.Timeout,
		UseFallback: l.Fallback,
		EDRX: linkctl.EDRX{
			RequestOnInit: l.EDRX.RequestOnInit,
			ActType:       l.EDRX.ActType,
			Value:         l.EDRX.Value,
		},
		PSM:           linkctl.PSM{PeriodicTAU: tau, ActiveTime: active},
		ModemTrace:    l.ModemTrace,
		BandMask:      l.BandMask,
		PLMN:          l.PLMN,
		LegacyPCO:     l.LegacyPCO,
		PDPContext:    l.PDPContext,
		PDNAuth:       l.PDNAuth,
		LoggerFactory: lf,
	}
	if err := cfg.Validate(); err != nil {
		return linkctl.Config{}, &LoadError{Message: "link", Cause: err}
	}
	return cfg, nil
}

// psmField passes raw bit strings through and encodes durations.
func psmField(s string, table psm.Table) (string, error) {
	if s == "" || len(s) == psm.FieldLen && strings.Trim(s, "01") == "" {
		return s, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", err
	}
	return psm.Encode(d, table)
}

// ParseLogLevel maps a level name to a pion log level.
func ParseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info", "":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
	}
}
