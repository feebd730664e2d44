package env

import "time"

const (
	GPIO02 = "GPIO2" // SDA
	GPIO03 = "GPIO3" // SCL
	GPIO17 = "GPIO17"
	GPIO20 = "GPIO20"
	GPIO22 = "GPIO22"
	GPIO23 = "GPIO23"
	GPIO24 = "GPIO24"
	GPIO25 = "GPIO25"
	GPIO27 = "GPIO27"

	PhDownPumpOut = GPIO17
	PhUpPumpOut   = GPIO27
	RefillPumpOut = GPIO22
	OverflowIn    = GPIO23 // float switch, low when tripped
	EnableButton  = GPIO24
	StatusLed     = GPIO25
	HeartbeatLed  = GPIO20

	// i2c
	ADCBus       = ""
	ADCAddr      = 0x48
	EnvBus       = ""
	EnvAddr      = 0x76
	PHChannel    = 0
	TDSChannel   = 1
	MaxADCVolts  = 4.096
	ADCConvert   = 10 * time.Millisecond
	EnvConvert   = 50 * time.Millisecond
	ButtonSettle = 50 * time.Millisecond

	HeartbeatInterval = 30 * time.Second
	ReportInterval    = time.Minute
	TrendSamples      = 60

	// test mode probe voltages
	SimPHVolts  = 1.5
	SimTDSVolts = 0.8
)
