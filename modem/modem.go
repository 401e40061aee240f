package modem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"ltelink/at"

	"github.com/pion/logging"
	"github.com/tarm/serial"
	"github.com/warthog618/modem/info"
)

const (
	DefaultBaud           = 115200
	DefaultCommandTimeout = 10 * time.Second
	readTimeout           = time.Second
	idleBackoff           = 10 * time.Millisecond
)

var (
	ErrClosed         = errors.New("modem: closed")
	ErrCommandTimeout = errors.New("modem: command timed out")
	ErrNoOperator     = errors.New("modem: no operator selected")
)

// CommandError is returned when the modem answers a command with an
// error result code.
type CommandError struct {
	Cmd    string
	Result string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("modem: %s: %s", e.Cmd, e.Result)
}

type Config struct {
	// Port is the serial device, e.g. /dev/ttyACM0. Only used by Open.
	Port string
	Baud int

	// CommandTimeout bounds a single command/response exchange.
	CommandTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Status is the modem state tracked from unsolicited reports.
type Status struct {
	Registration string
	Registered   bool
	AccessTech   string
	RRCConnected bool
}

type Modem struct {
	port io.ReadWriteCloser
	cfg  Config
	log  logging.LeveledLogger

	cmdMutex sync.Mutex

	mu           sync.Mutex
	inCommand    bool
	currentCmd   string
	lastResponse []string
	cmdDone      chan struct{}
	status       Status

	notifyMu sync.Mutex
	notify   func(string)

	urcChan   chan string
	handlers  map[string]func(string)
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens the serial port named in cfg and starts the reader.
func Open(cfg Config) (*Modem, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	p, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: readTimeout})
	if err != nil {
		return nil, fmt.Errorf("modem: open %s: %w", cfg.Port, err)
	}
	return New(p, cfg), nil
}

// New wraps an already open byte stream to a modem.
func New(port io.ReadWriteCloser, cfg Config) *Modem {
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}

	m := &Modem{
		port:    port,
		cfg:     cfg,
		log:     newLogger(cfg.LoggerFactory, "modem"),
		urcChan: make(chan string, 20),
		closed:  make(chan struct{}),
		status:  Status{Registration: "Searching..."},
	}

	m.handlers = map[string]func(string){
		"+CEREG":     m.handleRegistrationUpdate,
		"+CSCON":     m.handleSignalingConnection,
		"+CME ERROR": m.handleCMEError,
	}

	m.wg.Add(2)
	go m.listenLoop()
	go m.monitorEvents()

	return m
}

func newLogger(f logging.LoggerFactory, scope string) logging.LeveledLogger {
	if f == nil {
		d := logging.NewDefaultLoggerFactory()
		d.DefaultLogLevel = logging.LogLevelDisabled
		d.ScopeLevels = nil
		f = d
	}
	return f.NewLogger(scope)
}

// Setup disables echo and enables numeric extended errors.
func (m *Modem) Setup() error {
	for _, cmd := range []string{
		"ATE0",      // Disable echo early to prevent polluted buffers
		"AT+CMEE=1", // Numeric +CME ERROR codes
	} {
		if err := m.Write(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the reader and closes the port.
func (m *Modem) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		err = m.port.Close()
		m.wg.Wait()
	})
	return err
}

// async reader splits command results from events
func (m *Modem) listenLoop() {
	defer m.wg.Done()
	reader := bufio.NewReader(m.port)
	var partial strings.Builder

	for {
		chunk, err := reader.ReadString('\r')
		partial.WriteString(chunk)
		if err != nil {
			select {
			case <-m.closed:
				return
			default:
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				m.log.Warnf("🔌 port closed: %v", err)
				return
			}
			if err != io.EOF && err != io.ErrNoProgress {
				m.log.Warnf("🔌 Read error: %v", err)
			}
			time.Sleep(idleBackoff)
			continue
		}

		line := strings.TrimSpace(partial.String())
		partial.Reset()
		if line == "" {
			continue
		}
		m.routeLine(line)
	}
}

func (m *Modem) routeLine(line string) {
	m.mu.Lock()
	if m.inCommand && !m.unsolicitedDuringCommand(line) {
		if line == m.currentCmd {
			// echo
			m.mu.Unlock()
			return
		}
		m.log.Tracef("⬅️ %s", line)
		m.lastResponse = append(m.lastResponse, line)
		if at.IsFinal(line) {
			m.inCommand = false
			close(m.cmdDone)
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if !m.isUnsolicited(line) {
		m.log.Debugf("dropping stray line %q", line)
		return
	}

	m.log.Tracef("🔔 %s", line)
	select {
	case m.urcChan <- line:
	case <-m.closed:
	}
}

var urcPrefixes = []string{
	"+CEREG:", "+CREG:", "+CGREG:", "+CSCON:", "+CEDRXP:", "+CME ERROR:",
	"%CESQ:", "%XT3412:", "%XMODEMSLEEP:", "%MDMEV:", "%XMODEMTRACE:",
}

func (m *Modem) isUnsolicited(line string) bool {
	for _, p := range urcPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// unsolicitedDuringCommand reports whether a URC-looking line that arrived
// while a command was in flight belongs to the command response. A line
// is part of the response when the command queries its prefix, as
// AT+CEREG? does for +CEREG: lines. Error finals always end the command.
func (m *Modem) unsolicitedDuringCommand(line string) bool {
	if at.IsFinal(line) || !m.isUnsolicited(line) {
		return false
	}
	name, _, _ := strings.Cut(line, ":")
	return !strings.Contains(m.currentCmd, name)
}

func (m *Modem) send(cmd string) ([]string, error) {
	m.cmdMutex.Lock()
	defer m.cmdMutex.Unlock()

	select {
	case <-m.closed:
		return nil, ErrClosed
	default:
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.lastResponse = nil
	m.inCommand = true
	m.currentCmd = cmd
	m.cmdDone = done
	m.mu.Unlock()

	m.log.Debugf("➡️ %s", cmd)
	if _, err := m.port.Write([]byte(cmd + "\r")); err != nil {
		m.abort()
		return nil, fmt.Errorf("modem: write %s: %w", cmd, err)
	}

	timer := time.NewTimer(m.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		m.abort()
		return nil, fmt.Errorf("%w: %s after %s", ErrCommandTimeout, cmd, m.cfg.CommandTimeout)
	case <-m.closed:
		return nil, ErrClosed
	}

	m.mu.Lock()
	resp := m.lastResponse
	m.lastResponse = nil
	m.mu.Unlock()

	final := resp[len(resp)-1]
	lines := resp[:len(resp)-1]
	if at.IsError(final) {
		return lines, &CommandError{Cmd: cmd, Result: final}
	}
	return lines, nil
}

func (m *Modem) abort() {
	m.mu.Lock()
	m.inCommand = false
	m.lastResponse = nil
	m.mu.Unlock()
}

// Write sends a command and waits for its final result, discarding any
// information lines.
func (m *Modem) Write(cmd string) error {
	_, err := m.send(cmd)
	return err
}

// Command sends a command and returns its information lines without the
// final result code.
func (m *Modem) Command(cmd string) ([]string, error) {
	return m.send(cmd)
}

// SetNotificationHandler installs the single handler that receives every
// unsolicited line after the modem's own bookkeeping. A nil handler
// removes it.
func (m *Modem) SetNotificationHandler(h func(string)) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.notify = h
}

// Status returns the state last reported by the modem.
func (m *Modem) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// event listener
func (m *Modem) monitorEvents() {
	defer m.wg.Done()
	for {
		select {
		case line := <-m.urcChan:
			m.HandleEvent(line)
		case <-m.closed:
			return
		}
	}
}

// HandleEvent runs the bookkeeping handler for an unsolicited line and then
// passes it to the notification handler, if any.
func (m *Modem) HandleEvent(line string) {
	for prefix, h := range m.handlers {
		if info.HasPrefix(line, prefix) {
			h(line)
			break
		}
	}

	m.notifyMu.Lock()
	notify := m.notify
	m.notifyMu.Unlock()
	if notify != nil {
		notify(line)
	}
}
