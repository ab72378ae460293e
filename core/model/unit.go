package model

import "fmt"

// DeviceCategory identifies the vendor family a controllable unit belongs to.
type DeviceCategory int

const (
	CategoryThermostat DeviceCategory = iota
	CategoryBattery
	CategoryPanel
	CategoryPlug
)

// String returns a human-readable representation of the category.
func (c DeviceCategory) String() string {
	switch c {
	case CategoryThermostat:
		return "thermostat"
	case CategoryBattery:
		return "battery"
	case CategoryPanel:
		return "panel"
	case CategoryPlug:
		return "plug"
	default:
		return "unknown"
	}
}

// ParseDeviceCategory maps the wire representation to a DeviceCategory.
func ParseDeviceCategory(s string) (DeviceCategory, error) {
	switch s {
	case "thermostat":
		return CategoryThermostat, nil
	case "battery":
		return CategoryBattery, nil
	case "panel":
		return CategoryPanel, nil
	case "plug":
		return CategoryPlug, nil
	default:
		return 0, fmt.Errorf("unknown device category %q", s)
	}
}

// DeviceConfig carries per-category control parameters. The structure is
// versioned so stored configs survive schema evolution; vendor fields the
// engine does not understand ride along opaquely in VendorExtra.
type DeviceConfig struct {
	Version         int     `json:"version"`
	SetpointDeltaF  float64 `json:"setpoint_delta_f,omitempty"`  // thermostats
	MinSoCPercent   float64 `json:"min_soc_percent,omitempty"`   // batteries
	BreakerPosition int     `json:"breaker_position,omitempty"`  // panel circuits
	VendorExtra     []byte  `json:"vendor_extra,omitempty"`
}

// Unit is a device or circuit eligible for automated curtailment.
type Unit struct {
	ID           string
	HomeID       string
	Name         string
	Category     DeviceCategory
	RatedKW      float64
	Critical     bool
	Controllable bool
	Config       DeviceConfig
}

// Eligible reports whether the unit may ever be selected for curtailment.
// Critical units are excluded unconditionally.
func (u Unit) Eligible() bool { return u.Controllable && !u.Critical }

// Validate checks that the unit definition is sound.
func (u Unit) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("unit id is required")
	}
	if u.HomeID == "" {
		return fmt.Errorf("unit %s: home id is required", u.ID)
	}
	if u.RatedKW < 0 {
		return fmt.Errorf("unit %s: rated capacity must not be negative", u.ID)
	}
	return nil
}
