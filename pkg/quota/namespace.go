package quota

import "slices"

// Quota keys reported by Delta-series devices. Keys the alert rules depend
// on get named constants; the rest only appear in the namespace table.
const (
	KeySOC         = "pd.soc"
	KeyOutputPower = "pd.wattsOutSum"
	KeyInputPower  = "pd.wattsInSum"
	KeyRemainTime  = "pd.remainTime"
)

var namespaceKeys = []string{
	KeyOutputPower,
	KeyInputPower,
	KeySOC,
	KeyRemainTime,
	"pd.typec1Watts",
	"pd.carWatts",
	"pd.usb1Watts",
	"pd.usb2Watts",
	"pd.qcUsb1Watts",
	"pd.qcUsb2Watts",
	"pd.typec2Watts",
	"pd.chgPowerAC",
	"pd.chgPowerDC",
	"pd.chgSunPower",
	"pd.dsgPowerAC",
	"pd.dsgPowerDC",
	"mppt.chgType",
	"bms_emsStatus.chgState",
	"pd.chgDsgState",
	"pd.typec1Temp",
	"pd.typec2Temp",
	"pd.carTemp",
	"mppt.mpptTemp",
	"inv.outTemp",
	"bms_bmsStatus.vol",
	"bms_bmsStatus.temp",
}

var temperatureKeyList = []string{
	"pd.typec1Temp",
	"pd.typec2Temp",
	"pd.carTemp",
	"mppt.mpptTemp",
	"inv.outTemp",
	"bms_bmsStatus.temp",
}

var temperatureKeys = func() map[string]bool {
	set := make(map[string]bool, len(temperatureKeyList))
	for _, key := range temperatureKeyList {
		set[key] = true
	}
	return set
}()

var namespaceSet = func() map[string]bool {
	set := make(map[string]bool, len(namespaceKeys))
	for _, key := range namespaceKeys {
		set[key] = true
	}
	return set
}()

// Namespace returns the known quota keys in their canonical order. The
// returned slice is a copy and safe to mutate.
func Namespace() []string {
	return slices.Clone(namespaceKeys)
}

func IsKnownKey(key string) bool {
	return namespaceSet[key]
}

// IsTemperatureKey reports whether key carries a temperature in degrees
// Celsius. The high temperature alert rule scans these.
func IsTemperatureKey(key string) bool {
	return temperatureKeys[key]
}

// TemperatureKeys returns the temperature quotas in canonical order.
func TemperatureKeys() []string {
	return slices.Clone(temperatureKeyList)
}
