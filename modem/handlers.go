package modem

import (
	"encoding/hex"
	"fmt"
	"strings"

	"ltelink/at"

	"github.com/warthog618/sms/encoding/ucs2"
)

var registrationStatus = map[int]string{
	0: "Not registered, not searching",
	1: "Registered, home network",
	2: "Not registered, searching...",
	3: "Registration denied",
	4: "Not registered, unknown",
	5: "Registered, roaming",
	6: "Registered, SMS only (home)",
	7: "Registered, SMS only (roaming)",
	8: "Emergency services only",
}

// +CEREG: <stat>[,<tac>,<ci>,<AcT>[,<cause_type>,<reject_cause>[,<Active-Time>,<Periodic-TAU>]]]
func (m *Modem) handleRegistrationUpdate(line string) {
	p, err := at.Parse(line)
	if err != nil {
		return
	}
	stat, err := p.Int(1)
	if err != nil {
		return
	}

	statusStr, ok := registrationStatus[stat]
	if !ok {
		statusStr = fmt.Sprintf("Unknown status (%d)", stat)
	}
	m.log.Infof("📡 Registration Update: %s", statusStr)

	tac, _ := p.String(2)
	ci, _ := p.String(3)
	if tac != "" && ci != "" {
		m.log.Debugf("   Area Code: %s, Cell ID: %s", tac, ci)
	}
	act, actErr := p.Int(4)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Registration = statusStr
	switch stat {
	case 1, 5:
		m.status.Registered = true
		if actErr == nil {
			m.status.AccessTech = AccessTech(act)
		}
	default:
		m.status.Registered = false
		m.status.AccessTech = ""
	}
}

// AccessTech names the <AcT> value of a registration report.
func AccessTech(act int) string {
	switch act {
	case 0, 1, 3:
		return "2G"
	case 2, 4, 5, 6:
		return "3G"
	case 7:
		return "LTE-M"
	case 9:
		return "NB-IoT"
	default:
		return ""
	}
}

func (m *Modem) handleSignalingConnection(line string) {
	p, err := at.Parse(line)
	if err != nil {
		return
	}
	mode, err := p.Int(1)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.status.RRCConnected = mode == 1
	m.mu.Unlock()
	m.log.Debugf("📶 RRC connected: %v", mode == 1)
}

func (m *Modem) handleCMEError(line string) {
	p, err := at.Parse(line)
	if err != nil {
		return
	}
	code, err := p.Int(1)
	if err != nil {
		return
	}

	m.log.Warnf("🚫 CME Error: %d", code)
	switch code {
	case 10: // No SIM card
		m.log.Warn("🚫 No SIM card inserted!")
	case 14: // SIM busy
		m.log.Info("⚠️ SIM card is busy...")
	}
}

// Operator returns the name of the selected operator. Names reported in
// UCS2 hex are decoded.
func (m *Modem) Operator() (string, error) {
	lines, err := m.Command("AT+COPS?")
	if err != nil {
		return "", err
	}

	for _, l := range lines {
		if !strings.HasPrefix(l, "+COPS:") {
			continue
		}
		p, err := at.Parse(l)
		if err != nil {
			return "", fmt.Errorf("modem: %q: %w", l, err)
		}
		name, err := p.String(3)
		if err != nil {
			return "", ErrNoOperator
		}
		name = strings.TrimSpace(name)
		if format, err := p.Int(2); err == nil && format != 2 {
			name = autoDecode(name)
		}
		m.log.Infof("📶 Carrier: %s", name)
		return name, nil
	}
	return "", ErrNoOperator
}

// SignalQuality returns the RSRP in dBm reported by AT+CESQ. ok is false
// when the modem does not know the value.
func (m *Modem) SignalQuality() (rsrp int, ok bool, err error) {
	lines, err := m.Command("AT+CESQ")
	if err != nil {
		return 0, false, err
	}

	for _, l := range lines {
		if !strings.HasPrefix(l, "+CESQ:") {
			continue
		}
		p, err := at.Parse(l)
		if err != nil {
			return 0, false, fmt.Errorf("modem: %q: %w", l, err)
		}
		// +CESQ: <rxlev>,<ber>,<rscp>,<ecno>,<rsrq>,<rsrp>
		v, err := p.Int(6)
		if err != nil {
			return 0, false, fmt.Errorf("modem: %q: %w", l, err)
		}
		if v < 0 || v > 97 {
			return 0, false, nil
		}
		m.log.Debugf("📶 RSRP: %d dBm", v-140)
		return v - 140, true, nil
	}
	return 0, false, fmt.Errorf("modem: no +CESQ line in reply")
}

// SIMStatus returns the AT+CPIN? state, "READY" once the SIM is unlocked.
func (m *Modem) SIMStatus() (string, error) {
	lines, err := m.Command("AT+CPIN?")
	if err != nil {
		return "", err
	}
	for _, l := range lines {
		if status, found := strings.CutPrefix(l, "+CPIN:"); found {
			status = strings.TrimSpace(status)
			m.log.Infof("🔒 SIM Status: %s", status)
			return status, nil
		}
	}
	return "", fmt.Errorf("modem: no +CPIN line in reply")
}

// smart decoding
func autoDecode(raw string) string {
	if !isLikelyHexUCS2(raw) {
		return raw
	}
	decoded, err := decodeUCS2(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func isLikelyHexUCS2(s string) bool {
	if len(s) < 4 || len(s)%4 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func decodeUCS2(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	runes, err := ucs2.Decode(bytes)
	if err != nil {
		return "", err
	}
	return string(runes), nil
}
