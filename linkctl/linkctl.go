// Package linkctl attaches a cellular modem to the network.
//
// A Controller selects the preferred system mode, activates the radio and
// waits for a +CEREG report saying the device is registered. When the wait
// times out and fallback is enabled, the radio is taken offline, the
// fallback mode is selected and the wait is repeated once.
//
// Only one operation runs on a Controller at a time; concurrent callers
// block until the running one returns.
package linkctl

import (
	"fmt"
	"sync"

	"ltelink/timers"

	"github.com/pion/logging"
)

// Channel is the modem command channel the controller drives.
type Channel interface {
	// Write sends a command and waits for its final result.
	Write(cmd string) error
	// Command sends a command and returns its information lines.
	Command(cmd string) ([]string, error)
	// SetNotificationHandler installs the single unsolicited line handler.
	// nil removes it.
	SetNotificationHandler(h func(line string))
}

// State is the position of the controller in the registration sequence.
type State int

const (
	StateIdle State = iota
	StateAwaitingPreferred
	StateAwaitingFallback
	StateRegistered
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPreferred:
		return "awaiting-preferred"
	case StateAwaitingFallback:
		return "awaiting-fallback"
	case StateRegistered:
		return "registered"
	case StateTimedOut:
		return "timed-out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Controller struct {
	ch  Channel
	cfg Config
	log logging.LeveledLogger

	mu sync.Mutex

	stateMu sync.Mutex
	state   State
	mode    NetworkMode
}

// New validates cfg and returns a controller bound to ch.
func New(ch Channel, cfg Config) (*Controller, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: nil channel", ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		ch:  ch,
		cfg: cfg,
		log: newLogger(cfg.LoggerFactory, "linkctl"),
	}, nil
}

// State returns the outcome of the last Connect, or its progress while one
// is running.
func (c *Controller) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Mode returns the network mode used by the last Connect.
func (c *Controller) Mode() NetworkMode {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.mode
}

func (c *Controller) setState(s State, mode NetworkMode) {
	c.stateMu.Lock()
	c.state = s
	c.mode = mode
	c.stateMu.Unlock()
}

func (c *Controller) write(cmd string) error {
	if err := c.ch.Write(cmd); err != nil {
		return &TransportError{Cmd: cmd, Err: err}
	}
	return nil
}

// Init sends the one-shot configuration commands and subscribes to
// registration reports that carry PSM details.
func (c *Controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.init()
}

func (c *Controller) init() error {
	for _, cmd := range c.cfg.initCommands() {
		if err := c.write(cmd); err != nil {
			return err
		}
	}
	if c.cfg.PDPContext != "" {
		c.log.Infof("PDP Context: %s", c.cfg.PDPContext)
	}
	if c.cfg.LegacyPCO {
		c.log.Info("Using legacy LTE PCO mode...")
	}
	return nil
}

// Connect registers the device to the network. It returns nil once the
// modem reports registration, ErrTimeout when no mode registered in time,
// or a *TransportError when a command could not be sent.
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect()
}

// InitAndConnect runs Init followed by Connect.
func (c *Controller) InitAndConnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.init(); err != nil {
		return err
	}
	return c.connect()
}

func (c *Controller) connect() error {
	sig := timers.NewSignal()
	c.ch.SetNotificationHandler(NewListener(sig, c.cfg.LoggerFactory).Handle)
	defer c.ch.SetNotificationHandler(nil)

	mode := ModePreferred
	retried := false
	c.setState(StateAwaitingPreferred, mode)

	for {
		cmd := c.cfg.Modes.Command(mode)
		c.log.Debugf("Network mode: %s (%s)", mode, cmd)

		if err := c.write(cmd); err != nil {
			c.setState(StateFailed, mode)
			return err
		}
		if err := c.write(cmdNormal); err != nil {
			c.setState(StateFailed, mode)
			return err
		}

		if sig.Wait(c.cfg.Timeout) {
			c.setState(StateRegistered, mode)
			c.log.Infof("📡 Registered using %s network mode", mode)
			return nil
		}
		c.log.Info("Network connection attempt timed out")

		if !c.cfg.UseFallback || mode != ModePreferred || retried {
			c.setState(StateTimedOut, mode)
			return fmt.Errorf("%w: no registration within %s in %s mode", ErrTimeout, c.cfg.Timeout, mode)
		}

		// The system mode can only be changed while the radio is off.
		if err := c.write(cmdOffline); err != nil {
			c.setState(StateFailed, mode)
			return err
		}
		sig.Reset()

		mode = ModeFallback
		retried = true
		c.setState(StateAwaitingFallback, mode)
		c.log.Info("Using fallback network mode")
	}
}

// Offline turns the radio off while keeping the modem powered.
func (c *Controller) Offline() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(cmdOffline)
}

// Normal turns the radio on.
func (c *Controller) Normal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(cmdNormal)
}

// PowerOff puts the modem in minimum functionality mode.
func (c *Controller) PowerOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(cmdPowerOff)
}

// EDRXRequest asks the network for the configured eDRX cycle, or for eDRX
// to be disabled.
func (c *Controller) EDRXRequest(enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !enable {
		return c.write(cmdEDRXDisable)
	}
	if c.cfg.EDRX.Value == "" {
		return fmt.Errorf("%w: no eDRX value configured", ErrInvalidArgument)
	}
	return c.write(c.cfg.edrxRequest())
}
