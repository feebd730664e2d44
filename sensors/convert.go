package sensors

import (
	"math"

	"github.com/gr-butler/hydro/settings"
)

// VoltageToPH maps a probe voltage onto the calibration curve. The curve is two
// straight lines meeting at pH 7; readings are clamped to [0, 14].
func VoltageToPH(cal settings.Calibration, volts float64) float64 {
	var ph float64
	// same side of the pH 7 point as the pH 4 point means acidic
	if (volts-cal.PH7Volts)*(cal.PH4Volts-cal.PH7Volts) > 0 {
		slope := (7.0 - 4.0) / (cal.PH7Volts - cal.PH4Volts)
		ph = 7.0 + (volts-cal.PH7Volts)*slope
	} else {
		slope := (10.0 - 7.0) / (cal.PH10Volts - cal.PH7Volts)
		ph = 7.0 + (volts-cal.PH7Volts)*slope
	}
	return math.Max(0, math.Min(14, ph))
}

// VoltageToTDS converts a TDS probe voltage to ppm, compensated to 25°C.
// k is the probe constant.
// https://wiki.dfrobot.com/Gravity__Analog_TDS_Sensor___Meter_For_Arduino_SKU__SEN0244
func VoltageToTDS(volts float64, temperatureC float64, k float64) float64 {
	coefficient := 1.0 + 0.02*(temperatureC-25.0)
	v := volts / coefficient
	tds := (133.42*v*v*v - 255.86*v*v + 857.39*v) * 0.5 * k
	if tds < 0 {
		return 0
	}
	return math.Round(tds*10) / 10
}
