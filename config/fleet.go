package config

import (
	"fmt"

	"github.com/rongxinyin/pezzrr-app/core/model"
)

// UnitConfig declares one controllable unit of the fleet.
type UnitConfig struct {
	ID           string             `json:"id"`
	HomeID       string             `json:"home_id"`
	Name         string             `json:"name"`
	Category     string             `json:"category"`
	RatedKW      float64            `json:"rated_kw"`
	Critical     bool               `json:"critical"`
	Controllable *bool              `json:"controllable,omitempty"`
	Device       model.DeviceConfig `json:"device"`
}

// Validate checks the declaration.
func (c UnitConfig) Validate() error {
	if _, err := model.ParseDeviceCategory(c.Category); err != nil {
		return fmt.Errorf("unit %s: %w", c.ID, err)
	}
	return c.Unit().Validate()
}

// Unit converts the declaration to the model type. Controllable defaults to
// true when omitted.
func (c UnitConfig) Unit() model.Unit {
	cat, _ := model.ParseDeviceCategory(c.Category)
	controllable := true
	if c.Controllable != nil {
		controllable = *c.Controllable
	}
	return model.Unit{
		ID:           c.ID,
		HomeID:       c.HomeID,
		Name:         c.Name,
		Category:     cat,
		RatedKW:      c.RatedKW,
		Critical:     c.Critical,
		Controllable: controllable,
		Config:       c.Device,
	}
}
