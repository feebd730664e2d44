package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/nvs"
	logger "github.com/sirupsen/logrus"
)

const (
	CalibrationMagic      uint32 = 0x43445948 // "HYDC"
	CalibrationRecordSize        = 38

	calibrationBodySize = CalibrationRecordSize - 8
)

// Calibration holds the probe voltage at the three buffer solutions.
type Calibration struct {
	Magic     uint32
	Version   Version
	PH4Volts  float64
	PH7Volts  float64
	PH10Volts float64
	Checksum  uint64
}

func DefaultCalibration() Calibration {
	return SealCalibration(Calibration{PH4Volts: 2.032, PH7Volts: 1.500, PH10Volts: 0.975})
}

func SealCalibration(c Calibration) Calibration {
	c.Magic = CalibrationMagic
	c.Version = Version{Major: VersionMajor, Minor: VersionMinor}
	c.Checksum = data.Checksum(encodeCalibrationBody(c))
	return c
}

func encodeCalibrationBody(c Calibration) []byte {
	b := make([]byte, calibrationBodySize)
	binary.LittleEndian.PutUint32(b[0:], c.Magic)
	b[4] = c.Version.Major
	b[5] = c.Version.Minor
	binary.LittleEndian.PutUint64(b[6:], math.Float64bits(c.PH4Volts))
	binary.LittleEndian.PutUint64(b[14:], math.Float64bits(c.PH7Volts))
	binary.LittleEndian.PutUint64(b[22:], math.Float64bits(c.PH10Volts))
	return b
}

func EncodeCalibration(c Calibration) []byte {
	return binary.LittleEndian.AppendUint64(encodeCalibrationBody(c), c.Checksum)
}

func DecodeCalibration(b []byte) (Calibration, error) {
	if len(b) != CalibrationRecordSize {
		return Calibration{}, &ValidationError{Field: "calibration", Reason: fmt.Sprintf("length %d", len(b))}
	}
	c := Calibration{
		Magic:     binary.LittleEndian.Uint32(b[0:]),
		Version:   Version{Major: b[4], Minor: b[5]},
		PH4Volts:  math.Float64frombits(binary.LittleEndian.Uint64(b[6:])),
		PH7Volts:  math.Float64frombits(binary.LittleEndian.Uint64(b[14:])),
		PH10Volts: math.Float64frombits(binary.LittleEndian.Uint64(b[22:])),
		Checksum:  binary.LittleEndian.Uint64(b[calibrationBodySize:]),
	}
	if err := ValidateCalibration(c); err != nil {
		return Calibration{}, err
	}
	return c, nil
}

// ValidateCalibration needs the three points to be positive and to move in one
// direction, otherwise the pH curve cannot be inverted.
func ValidateCalibration(c Calibration) error {
	if c.Magic != CalibrationMagic {
		return &ValidationError{Field: "calibration magic", Reason: fmt.Sprintf("%#x", c.Magic)}
	}
	if c.Version.Major != VersionMajor || c.Version.Minor != VersionMinor {
		return &ValidationError{Field: "calibration version", Reason: c.Version.String()}
	}
	for _, v := range []float64{c.PH4Volts, c.PH7Volts, c.PH10Volts} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return &ValidationError{Field: "calibration", Reason: fmt.Sprintf("bad voltage %v", v)}
		}
	}
	falling := c.PH4Volts > c.PH7Volts && c.PH7Volts > c.PH10Volts
	rising := c.PH4Volts < c.PH7Volts && c.PH7Volts < c.PH10Volts
	if !falling && !rising {
		return &ValidationError{Field: "calibration", Reason: "voltages not monotonic"}
	}
	if c.Checksum != data.Checksum(encodeCalibrationBody(c)) {
		return &ValidationError{Field: "calibration checksum", Reason: "mismatch"}
	}
	return nil
}

// LoadCalibration is read once at startup and falls back to the defaults.
func LoadCalibration(n nvs.Store) Calibration {
	blob, err := n.Get(nvs.CalibrationBlob)
	if err == nil {
		c, verr := DecodeCalibration(blob)
		if verr == nil {
			logger.Infof("Loaded pH calibration [4: %.3fV, 7: %.3fV, 10: %.3fV]", c.PH4Volts, c.PH7Volts, c.PH10Volts)
			return c
		}
		err = verr
	}
	if !errors.Is(err, nvs.ErrNotFound) {
		logger.Warnf("Saved calibration rejected, using defaults [%v]", err)
	}
	c := DefaultCalibration()
	if err := n.Put(nvs.CalibrationBlob, EncodeCalibration(c)); err != nil {
		logger.Errorf("Failed to save default calibration [%v]", err)
	}
	return c
}
