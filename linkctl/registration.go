package linkctl

import (
	"errors"
	"fmt"

	"ltelink/at"
	"ltelink/psm"

	"github.com/warthog618/modem/info"
)

// Parameter positions in a +CEREG read response, counting the identifier
// as 0:
//
//	+CEREG: <n>,<stat>,<tac>,<ci>,<AcT>,<cause_type>,<reject_cause>,<Active-Time>,<Periodic-TAU>
const (
	ceregN              = 1
	ceregStat           = 2
	ceregTAC            = 3
	ceregCI             = 4
	ceregAcT            = 5
	ceregActiveTime     = 8
	ceregTAU            = 9
	ceregMaxParamsCount = 10
)

var errNoReport = errors.New("no +CEREG line in reply")

// Registration is a decoded +CEREG read response.
type Registration struct {
	N          int
	Status     RegStatus
	TAC        string
	CellID     string
	AcT        int
	ActiveTime psm.Timer
	TAU        psm.Timer
}

// ReadRegistration enables PSM details in registration reports and reads
// the current registration status.
func (c *Controller) ReadRegistration() (Registration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readRegistration()
}

// PSMGet returns the periodic TAU and active time granted by the network.
// A timer the network disabled is reported as Deactivated. A reply without
// both timer fields is a *ParseError.
func (c *Controller) PSMGet() (tau, activeTime psm.Timer, err error) {
	c.mu.Lock()
	line, err := c.readReport()
	c.mu.Unlock()
	if err == nil {
		tau, activeTime, err = parsePSM(line)
	}
	if err != nil {
		c.log.Errorf("Could not get PSM timers: %v", err)
		return psm.Timer{}, psm.Timer{}, err
	}
	c.log.Debugf("TAU: %s, active time: %s", tau, activeTime)
	return tau, activeTime, nil
}

// PSMRequest asks the network for the configured PSM timers, or for PSM to
// be disabled.
func (c *Controller) PSMRequest(enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !enable {
		return c.write(cmdPSMDisable)
	}
	if c.cfg.PSM.PeriodicTAU == "" || c.cfg.PSM.ActiveTime == "" {
		return fmt.Errorf("%w: PSM timers not configured", ErrInvalidArgument)
	}
	return c.write(c.cfg.psmRequest())
}

func (c *Controller) readRegistration() (Registration, error) {
	line, err := c.readReport()
	if err != nil {
		return Registration{}, err
	}
	return ParseRegistration(line)
}

// readReport subscribes to PSM details and returns the +CEREG read reply.
func (c *Controller) readReport() (string, error) {
	if err := c.write(cmdCEREG5); err != nil {
		return "", err
	}

	lines, err := c.ch.Command(cmdCEREGRead)
	if err != nil {
		return "", &TransportError{Cmd: cmdCEREGRead, Err: err}
	}

	for _, l := range lines {
		if info.HasPrefix(l, registrationReport) {
			return l, nil
		}
	}
	return "", &ParseError{Field: "reply", Err: errNoReport}
}

// ParseRegistration decodes a +CEREG read response line. The timer fields
// are only sent while PSM is granted; when absent they are left zero.
func ParseRegistration(line string) (Registration, error) {
	p, err := parseReport(line)
	if err != nil {
		return Registration{}, err
	}

	var r Registration
	if r.N, err = p.Int(ceregN); err != nil {
		return Registration{}, &ParseError{Field: "n", Line: line, Err: err}
	}
	stat, err := p.Int(ceregStat)
	if err != nil {
		return Registration{}, &ParseError{Field: "stat", Line: line, Err: err}
	}
	r.Status = RegStatus(stat)

	// Cell identity is only present while registered.
	r.TAC, _ = p.String(ceregTAC)
	r.CellID, _ = p.String(ceregCI)
	if act, err := p.Int(ceregAcT); err == nil {
		r.AcT = act
	}

	if present(p, ceregTAU) {
		if r.TAU, err = decodeTimer(p, line, ceregTAU, "periodic TAU", psm.TAUTable); err != nil {
			return Registration{}, err
		}
	}
	if present(p, ceregActiveTime) {
		if r.ActiveTime, err = decodeTimer(p, line, ceregActiveTime, "active time", psm.ActiveTimeTable); err != nil {
			return Registration{}, err
		}
	}
	return r, nil
}

// parsePSM decodes the timer fields of a +CEREG read response. Both must be
// present.
func parsePSM(line string) (tau, activeTime psm.Timer, err error) {
	p, err := parseReport(line)
	if err != nil {
		return psm.Timer{}, psm.Timer{}, err
	}
	if tau, err = decodeTimer(p, line, ceregTAU, "periodic TAU", psm.TAUTable); err != nil {
		return psm.Timer{}, psm.Timer{}, err
	}
	if activeTime, err = decodeTimer(p, line, ceregActiveTime, "active time", psm.ActiveTimeTable); err != nil {
		return psm.Timer{}, psm.Timer{}, err
	}
	return tau, activeTime, nil
}

func parseReport(line string) (at.Params, error) {
	p, err := at.Parse(line)
	if err != nil {
		return nil, &ParseError{Field: "reply", Line: line, Err: err}
	}
	if p.Identifier() != registrationReport {
		return nil, &ParseError{Field: "reply", Line: line, Err: errNoReport}
	}
	if len(p) > ceregMaxParamsCount {
		return nil, &ParseError{Field: "reply", Line: line, Err: fmt.Errorf("%d parameters, want at most %d", len(p), ceregMaxParamsCount)}
	}
	return p, nil
}

func present(p at.Params, index int) bool {
	return index < len(p) && p[index].Kind != at.KindEmpty
}

func decodeTimer(p at.Params, line string, index int, field string, table psm.Table) (psm.Timer, error) {
	bits, err := p.String(index)
	if err != nil {
		return psm.Timer{}, &ParseError{Field: field, Line: line, Err: err}
	}
	t, err := psm.Decode(bits, table)
	if err != nil {
		return psm.Timer{}, &ParseError{Field: field, Line: line, Err: err}
	}
	return t, nil
}
