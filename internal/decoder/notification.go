package decoder

import "fmt"

// MissingName is shown in place of an absent advertiser name.
const MissingName = "NULL"

// Notification is the display form of a Reading handed to consumers that
// render text.
type Notification struct {
	DeviceName    string `json:"device_name"`
	DeviceAddress string `json:"device_address"`
	RSSI          int    `json:"rssi"`
	Temperature   string `json:"temperature"`
	Humidity      string `json:"humidity"`
}

func (r Reading) Notification() Notification {
	name := r.DeviceName
	if name == "" {
		name = MissingName
	}
	return Notification{
		DeviceName:    name,
		DeviceAddress: r.Address,
		RSSI:          r.RSSI,
		Temperature:   fmt.Sprintf("%.1f", r.Temperature),
		Humidity:      fmt.Sprintf("%.1f%%", r.Humidity),
	}
}

func (n Notification) String() string {
	return fmt.Sprintf("%s (%s) rssi=%d T=%s H=%s", n.DeviceName, n.DeviceAddress, n.RSSI, n.Temperature, n.Humidity)
}
