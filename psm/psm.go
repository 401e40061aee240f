// Package psm decodes and encodes the 8-bit GPRS timer fields the network
// reports for Power Saving Mode (3GPP TS 24.008, 10.5.7.4 and 10.5.7.4a).
//
// A field is a string of eight binary digits. The three most significant
// bits select a unit from a Table, the remaining five bits are a multiplier.
package psm

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	FieldLen = 8
	unitBits = 3
	maxValue = 1<<(FieldLen-unitBits) - 1
)

// Disabled is the field value a modem accepts as "timer deactivated".
const Disabled = "11100000"

// Table maps a unit selector to seconds per unit. An entry of 0 means the
// timer is deactivated.
type Table [8]uint32

var (
	// ActiveTimeTable is the T3324 unit table (GPRS Timer 2).
	ActiveTimeTable = Table{2, 60, 600, 60, 60, 60, 60, 0}

	// TAUTable is the extended T3412 unit table (GPRS Timer 3).
	TAUTable = Table{600, 3600, 36000, 2, 30, 60, 1152000, 0}
)

var ErrNotRepresentable = errors.New("psm: duration not representable by timer table")

// ParseError reports a malformed timer field.
type ParseError struct {
	Bits   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("psm: invalid timer field %q: %s", e.Bits, e.Reason)
}

// Field is a split timer field.
type Field struct {
	Unit  uint8
	Value uint8
}

// ParseField splits an 8-character binary string into its unit selector and
// multiplier.
func ParseField(bits string) (Field, error) {
	if len(bits) != FieldLen {
		return Field{}, &ParseError{Bits: bits, Reason: fmt.Sprintf("length %d, want %d", len(bits), FieldLen)}
	}
	for i := 0; i < len(bits); i++ {
		if bits[i] != '0' && bits[i] != '1' {
			return Field{}, &ParseError{Bits: bits, Reason: fmt.Sprintf("non-binary character %q at %d", bits[i], i)}
		}
	}

	unit, err := strconv.ParseUint(bits[:unitBits], 2, 8)
	if err != nil {
		return Field{}, &ParseError{Bits: bits, Reason: err.Error()}
	}
	value, err := strconv.ParseUint(bits[unitBits:], 2, 8)
	if err != nil {
		return Field{}, &ParseError{Bits: bits, Reason: err.Error()}
	}

	return Field{Unit: uint8(unit), Value: uint8(value)}, nil
}

// String renders the field back to its binary form.
func (f Field) String() string {
	return fmt.Sprintf("%03b%05b", f.Unit, f.Value)
}

// Timer is a decoded timer value.
type Timer struct {
	Seconds     uint32
	Deactivated bool
}

// Duration returns the timer as a time.Duration, or 0 when deactivated.
func (t Timer) Duration() time.Duration {
	if t.Deactivated {
		return 0
	}
	return time.Duration(t.Seconds) * time.Second
}

func (t Timer) String() string {
	if t.Deactivated {
		return "deactivated"
	}
	return t.Duration().String()
}

// Decode converts a timer field into seconds using table.
func Decode(bits string, table Table) (Timer, error) {
	f, err := ParseField(bits)
	if err != nil {
		return Timer{}, err
	}
	return f.Decode(table)
}

// Decode converts an already split field into seconds using table.
func (f Field) Decode(table Table) (Timer, error) {
	if int(f.Unit) > len(table)-1 {
		return Timer{}, &ParseError{Bits: f.String(), Reason: fmt.Sprintf("unit %d out of range", f.Unit)}
	}
	if f.Value > maxValue {
		return Timer{}, &ParseError{Bits: f.String(), Reason: fmt.Sprintf("value %d out of range", f.Value)}
	}

	perUnit := table[f.Unit]
	if perUnit == 0 {
		return Timer{Deactivated: true}, nil
	}
	return Timer{Seconds: perUnit * uint32(f.Value)}, nil
}

// Encode picks the finest unit of table that represents d exactly and
// returns the binary field. Sub-second remainders are not representable.
func Encode(d time.Duration, table Table) (string, error) {
	if d < 0 || d%time.Second != 0 {
		return "", fmt.Errorf("%w: %s", ErrNotRepresentable, d)
	}
	secs := uint64(d / time.Second)

	best := -1
	for i, perUnit := range table {
		if perUnit == 0 {
			continue
		}
		p := uint64(perUnit)
		if secs%p != 0 || secs/p > maxValue {
			continue
		}
		if best < 0 || perUnit < table[best] {
			best = i
		}
	}
	if best < 0 {
		return "", fmt.Errorf("%w: %s", ErrNotRepresentable, d)
	}

	f := Field{Unit: uint8(best), Value: uint8(secs / uint64(table[best]))}
	return f.String(), nil
}
