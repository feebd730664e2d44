package settings

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gr-butler/hydro/data"
)

const (
	Magic        uint32 = 0x53445948 // "HYDS"
	VersionMajor uint8  = 1
	VersionMinor uint8  = 0
	RecordSize          = 28

	bodySize = RecordSize - 8
)

// field limits
const (
	MinPhStabilizeInterval = 30 * time.Second
	MaxPhStabilizeInterval = 12 * time.Hour
	MinPhDoseLength        = 200 * time.Millisecond
	MaxPhDoseLength        = 10 * time.Second
	MinRefillDoseLength    = 5 * time.Second
	MaxRefillDoseLength    = 70 * time.Second
)

type RefillMode uint8

const (
	RefillOff RefillMode = iota
	RefillOn
	RefillCirculate
)

func (m RefillMode) Valid() bool {
	return m <= RefillCirculate
}

func (m RefillMode) String() string {
	switch m {
	case RefillOff:
		return "off"
	case RefillOn:
		return "on"
	case RefillCirculate:
		return "circulate"
	default:
		return fmt.Sprintf("refill(%d)", uint8(m))
	}
}

type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

type Settings struct {
	Magic               uint32
	Version             Version
	AutoPH              bool
	RefillMode          RefillMode
	PhStabilizeInterval time.Duration
	PhDoseLength        time.Duration
	RefillDoseLength    time.Duration
	Checksum            uint64
}

// Defaults are the compiled in settings, already sealed.
func Defaults() Settings {
	return Seal(Settings{
		AutoPH:              true,
		RefillMode:          RefillOff,
		PhStabilizeInterval: 15 * time.Minute,
		PhDoseLength:        time.Second,
		RefillDoseLength:    30 * time.Second,
	})
}

// Seal stamps the current format tag and version and recomputes the checksum.
func Seal(s Settings) Settings {
	s.Magic = Magic
	s.Version = Version{Major: VersionMajor, Minor: VersionMinor}
	s.Checksum = ComputeChecksum(s)
	return s
}

// ComputeChecksum covers every field before the checksum in the encoded record.
func ComputeChecksum(s Settings) uint64 {
	return data.Checksum(encodeBody(s))
}

func encodeBody(s Settings) []byte {
	b := make([]byte, bodySize)
	binary.LittleEndian.PutUint32(b[0:], s.Magic)
	b[4] = s.Version.Major
	b[5] = s.Version.Minor
	if s.AutoPH {
		b[6] = 1
	}
	b[7] = uint8(s.RefillMode)
	binary.LittleEndian.PutUint32(b[8:], durationMs(s.PhStabilizeInterval))
	binary.LittleEndian.PutUint32(b[12:], durationMs(s.PhDoseLength))
	binary.LittleEndian.PutUint32(b[16:], durationMs(s.RefillDoseLength))
	return b
}

func durationMs(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

// Encode produces the persisted record. The checksum is written as held.
func Encode(s Settings) []byte {
	b := encodeBody(s)
	return binary.LittleEndian.AppendUint64(b, s.Checksum)
}

// DecodeAndValidate is the inverse of Encode; anything that would not pass
// Validate is rejected.
func DecodeAndValidate(b []byte) (Settings, error) {
	if len(b) != RecordSize {
		return Settings{}, &ValidationError{Field: "record", Reason: fmt.Sprintf("length %d, want %d", len(b), RecordSize)}
	}
	s := Settings{
		Magic:               binary.LittleEndian.Uint32(b[0:]),
		Version:             Version{Major: b[4], Minor: b[5]},
		AutoPH:              b[6] != 0,
		RefillMode:          RefillMode(b[7]),
		PhStabilizeInterval: time.Duration(binary.LittleEndian.Uint32(b[8:])) * time.Millisecond,
		PhDoseLength:        time.Duration(binary.LittleEndian.Uint32(b[12:])) * time.Millisecond,
		RefillDoseLength:    time.Duration(binary.LittleEndian.Uint32(b[16:])) * time.Millisecond,
		Checksum:            binary.LittleEndian.Uint64(b[bodySize:]),
	}
	if b[6] > 1 {
		return Settings{}, &ValidationError{Field: "auto_ph", Reason: fmt.Sprintf("bad flag %d", b[6])}
	}
	if err := Validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid settings: %s: %s", e.Field, e.Reason)
}

// Validate does not touch any state.
func Validate(s Settings) error {
	if s.Magic != Magic {
		return &ValidationError{Field: "magic", Reason: fmt.Sprintf("%#x", s.Magic)}
	}
	if s.Version.Major != VersionMajor || s.Version.Minor != VersionMinor {
		return &ValidationError{Field: "version", Reason: s.Version.String()}
	}
	if !s.RefillMode.Valid() {
		return &ValidationError{Field: "refill_mode", Reason: s.RefillMode.String()}
	}
	if err := inRange("ph_stabilize_interval", s.PhStabilizeInterval, MinPhStabilizeInterval, MaxPhStabilizeInterval); err != nil {
		return err
	}
	if err := inRange("ph_dose_length", s.PhDoseLength, MinPhDoseLength, MaxPhDoseLength); err != nil {
		return err
	}
	if err := inRange("refill_dose_length", s.RefillDoseLength, MinRefillDoseLength, MaxRefillDoseLength); err != nil {
		return err
	}
	if s.Checksum != ComputeChecksum(s) {
		return &ValidationError{Field: "checksum", Reason: "mismatch"}
	}
	return nil
}

func Valid(s Settings) bool {
	return Validate(s) == nil
}

func inRange(field string, d, min, max time.Duration) error {
	if d < min || d > max {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%v outside [%v, %v]", d, min, max)}
	}
	return nil
}
