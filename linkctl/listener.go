package linkctl

import (
	"ltelink/at"
	"ltelink/timers"

	"github.com/pion/logging"
)

const registrationReport = "+CEREG"

// RegStatus is the <stat> value of a +CEREG report.
type RegStatus int

const (
	NotRegistered      RegStatus = 0
	RegisteredHome     RegStatus = 1
	Searching          RegStatus = 2
	RegistrationDenied RegStatus = 3
	Unknown            RegStatus = 4
	RegisteredRoaming  RegStatus = 5
	UICCFailure        RegStatus = 90
)

// Registered reports whether the status means attached to a network.
func (s RegStatus) Registered() bool {
	return s == RegisteredHome || s == RegisteredRoaming
}

func (s RegStatus) String() string {
	switch s {
	case NotRegistered:
		return "not registered"
	case RegisteredHome:
		return "registered, home network"
	case Searching:
		return "searching"
	case RegistrationDenied:
		return "registration denied"
	case Unknown:
		return "unknown"
	case RegisteredRoaming:
		return "registered, roaming"
	case UICCFailure:
		return "UICC failure"
	default:
		return "unrecognized"
	}
}

// Listener watches unsolicited lines for a registration report and gives
// its signal when the device is registered.
type Listener struct {
	sig *timers.Signal
	log logging.LeveledLogger
}

func NewListener(sig *timers.Signal, lf logging.LoggerFactory) *Listener {
	return &Listener{sig: sig, log: newLogger(lf, "linkctl-listener")}
}

// Handle inspects one unsolicited line. Unrelated and malformed lines are
// ignored.
func (l *Listener) Handle(line string) {
	p, err := at.Parse(line)
	if err != nil || p.Identifier() != registrationReport {
		return
	}
	stat, err := p.Int(1)
	if err != nil {
		l.log.Debugf("ignoring %q: %v", line, err)
		return
	}

	s := RegStatus(stat)
	l.log.Debugf("registration status: %s", s)
	if s.Registered() {
		l.sig.Give()
	}
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
