package linkctl

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"ltelink/psm"

	"github.com/pion/logging"
)

// DefaultTimeout is how long a single network mode is given to register.
const DefaultTimeout = 10 * time.Minute

// NetworkMode selects which of the two configured system modes is active.
type NetworkMode int

const (
	ModePreferred NetworkMode = iota
	ModeFallback
)

func (m NetworkMode) String() string {
	switch m {
	case ModePreferred:
		return "preferred"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Modes binds each NetworkMode to the command that selects it.
type Modes struct {
	Preferred string
	Fallback  string
}

// Command returns the selection command for mode.
func (m Modes) Command(mode NetworkMode) string {
	if mode == ModeFallback {
		return m.Fallback
	}
	return m.Preferred
}

var presets = map[string]Modes{
	// Narrowband-IoT, falling back to LTE-M
	"nbiot": {Preferred: "AT%XSYSTEMMODE=0,1,0,0", Fallback: "AT%XSYSTEMMODE=1,0,0,0"},
	// Narrowband-IoT and GPS, falling back to LTE-M and GPS
	"nbiot-gps": {Preferred: "AT%XSYSTEMMODE=0,1,1,0", Fallback: "AT%XSYSTEMMODE=1,0,1,0"},
	// LTE-M, falling back to Narrowband-IoT
	"ltem": {Preferred: "AT%XSYSTEMMODE=1,0,0,0", Fallback: "AT%XSYSTEMMODE=0,1,0,0"},
	// LTE-M and GPS, falling back to Narrowband-IoT and GPS
	"ltem-gps": {Preferred: "AT%XSYSTEMMODE=1,0,1,0", Fallback: "AT%XSYSTEMMODE=0,1,1,0"},
}

// ModesFor resolves a network mode preset by name.
func ModesFor(name string) (Modes, error) {
	m, ok := presets[strings.ToLower(name)]
	if !ok {
		return Modes{}, fmt.Errorf("%w: unknown network mode %q (have %s)", ErrInvalidArgument, name, strings.Join(PresetNames(), ", "))
	}
	return m, nil
}

// PresetNames lists the known network mode presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EDRX holds the requested extended DRX parameters.
type EDRX struct {
	// RequestOnInit sends the request as part of Init.
	RequestOnInit bool
	// ActType is the access technology: 4 for LTE-M, 5 for NB-IoT.
	ActType int
	// Value is the 4-bit requested eDRX cycle, e.g. "1001".
	Value string
}

// PSM holds the requested Power Saving Mode timers as 8-bit fields.
type PSM struct {
	PeriodicTAU string
	ActiveTime  string
}

type Config struct {
	Modes       Modes
	Timeout     time.Duration
	UseFallback bool

	EDRX EDRX
	PSM  PSM

	// ModemTrace enables modem side tracing during Init.
	ModemTrace bool
	// BandMask locks LTE bands, e.g. "10000001000000001100".
	BandMask string
	// PLMN locks the operator, e.g. "24201".
	PLMN string
	// LegacyPCO switches the modem to legacy PCO mode.
	LegacyPCO bool
	// PDPContext is the AT+CGDCONT argument list, e.g. `0,"IP","iot.example"`.
	PDPContext string
	// PDNAuth is the AT+CGAUTH argument list, e.g. `0,1,"user","secret"`.
	PDNAuth string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Modes.Preferred == "" {
		return fmt.Errorf("%w: preferred network mode command is empty", ErrInvalidArgument)
	}
	if c.UseFallback && c.Modes.Fallback == "" {
		return fmt.Errorf("%w: fallback enabled without a fallback mode command", ErrInvalidArgument)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %s", ErrInvalidArgument, c.Timeout)
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}

	if c.EDRX.Value != "" && !isBinary(c.EDRX.Value, 4) {
		return fmt.Errorf("%w: eDRX value %q is not 4 binary digits", ErrInvalidArgument, c.EDRX.Value)
	}
	if c.EDRX.RequestOnInit && c.EDRX.Value == "" {
		return fmt.Errorf("%w: eDRX requested without a value", ErrInvalidArgument)
	}
	for name, bits := range map[string]string{"periodic TAU": c.PSM.PeriodicTAU, "active time": c.PSM.ActiveTime} {
		if bits == "" {
			continue
		}
		if _, err := psm.ParseField(bits); err != nil {
			return fmt.Errorf("%w: requested %s: %v", ErrInvalidArgument, name, err)
		}
	}
	return nil
}

func isBinary(s string, n int) bool {
	if len(s) != n {
		return false
	}
	return strings.Trim(s, "01") == ""
}

const (
	cmdNormal      = "AT+CFUN=1"
	cmdOffline     = "AT+CFUN=4"
	cmdPowerOff    = "AT+CFUN=0"
	cmdCEREG5      = "AT+CEREG=5"
	cmdCEREGRead   = "AT+CEREG?"
	cmdModemTrace  = "AT%XMODEMTRACE=1,2"
	cmdLegacyPCO   = "AT%XEPCO=0"
	cmdEDRXDisable = "AT+CEDRXS=3"
	cmdPSMDisable  = "AT+CPSMS="
)

func (c *Config) edrxRequest() string {
	return fmt.Sprintf("AT+CEDRXS=1,%d,%q", c.EDRX.ActType, c.EDRX.Value)
}

func (c *Config) psmRequest() string {
	return fmt.Sprintf("AT+CPSMS=1,,,%q,%q", c.PSM.PeriodicTAU, c.PSM.ActiveTime)
}

// initCommands lists the one-shot setup commands in the order the modem
// needs them. Band and operator locks are volatile and must precede every
// activation.
func (c *Config) initCommands() []string {
	var cmds []string
	if c.EDRX.RequestOnInit {
		cmds = append(cmds, c.edrxRequest())
	}
	if c.ModemTrace {
		cmds = append(cmds, cmdModemTrace)
	}
	cmds = append(cmds, cmdCEREG5)
	if c.BandMask != "" {
		cmds = append(cmds, fmt.Sprintf("AT%%XBANDLOCK=2,%q", c.BandMask))
	}
	if c.PLMN != "" {
		cmds = append(cmds, fmt.Sprintf("AT+COPS=1,2,%q", c.PLMN))
	}
	if c.LegacyPCO {
		cmds = append(cmds, cmdLegacyPCO)
	}
	if c.PDPContext != "" {
		cmds = append(cmds, "AT+CGDCONT="+c.PDPContext)
	}
	if c.PDNAuth != "" {
		cmds = append(cmds, "AT+CGAUTH="+c.PDNAuth)
	}
	return cmds
}
