package battery

import "github.com/barnapet/smartdrive/internal/pkg/model"

// SOHLimits are the state-of-health floors for one temperature band and fuel
// type, in percent.
type SOHLimits struct {
	Fail float64
	Warn float64
}

// sohBand is one row of the lookup table. Rows are checked warmest first.
type sohBand struct {
	name     string
	matches  func(t float64) bool
	gasoline SOHLimits
	diesel   SOHLimits
}

// Cold batteries deliver less cranking current and diesels need more of it,
// so both push the floors up.
var sohTable = []sohBand{
	{
		name:     "above 20C",
		matches:  func(t float64) bool { return t > 20 },
		gasoline: SOHLimits{Fail: 65, Warn: 80},
		diesel:   SOHLimits{Fail: 70, Warn: 85},
	},
	{
		name:     "0C to 20C",
		matches:  func(t float64) bool { return t >= 0 },
		gasoline: SOHLimits{Fail: 70, Warn: 83},
		diesel:   SOHLimits{Fail: 75, Warn: 88},
	},
	{
		name:     "-10C to 0C",
		matches:  func(t float64) bool { return t >= -10 },
		gasoline: SOHLimits{Fail: 75, Warn: 86},
		diesel:   SOHLimits{Fail: 80, Warn: 90},
	},
	{
		name:     "below -10C",
		matches:  func(float64) bool { return true },
		gasoline: SOHLimits{Fail: 80, Warn: 90},
		diesel:   SOHLimits{Fail: 85, Warn: 93},
	},
}

// LookupSOH returns the SOH limits for the temperature and fuel type. Unknown
// fuel types use the gasoline column.
func LookupSOH(tempC float64, fuel model.FuelType) SOHLimits {
	for _, band := range sohTable {
		if !band.matches(tempC) {
			continue
		}
		if fuel == model.FuelDiesel {
			return band.diesel
		}
		return band.gasoline
	}
	// unreachable: the last band matches everything
	return sohTable[len(sohTable)-1].gasoline
}

// Compensate shifts a 25 °C voltage threshold to tempC. Each degree below
// the reference raises the threshold by coefficient volts.
func Compensate(base, tempC, reference, coefficient float64) float64 {
	return base - coefficient*(reference-tempC)
}
