package model

import "time"

// Status is the package lifecycle stage recorded on chain as a uint8.
type Status uint8

const (
	StatusManufacturing Status = iota
	StatusQualityControl
	StatusWarehouse
	StatusInTransit
	StatusDistribution
	StatusDelivered
)

var statusNames = map[Status]string{
	StatusManufacturing:  "Manufacturing",
	StatusQualityControl: "QualityControl",
	StatusWarehouse:      "Warehouse",
	StatusInTransit:      "InTransit",
	StatusDistribution:   "Distribution",
	StatusDelivered:      "Delivered",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Valid reports whether the on-chain integer maps to a known stage.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Package is the projected current state of one shipment, folded from the
// creation, status, temperature and transfer event streams.
type Package struct {
	ID                     string `json:"id"`
	NumericID              uint64 `json:"numeric_id"`
	Description            string `json:"description"`
	Category               string `json:"category"`
	Origin                 string `json:"origin"`
	Destination            string `json:"destination"`
	Quantity               string `json:"quantity"`
	Handler                string `json:"handler"`
	Notes                  string `json:"notes"`
	ExpectedDate           string `json:"expected_date"`
	TemperatureRequirement string `json:"temperature_requirement"`

	CurrentOwner       string `json:"current_owner"`
	Status             Status `json:"status"`
	TemperatureReading *int64 `json:"temperature_reading,omitempty"`

	CreatedAt   uint64 `json:"created_at"`
	LastUpdated uint64 `json:"last_updated"`
}

// Delayed reports whether the expected delivery date has passed while the
// package is still short of Delivered. Unparseable or empty dates never alert.
func (p Package) Delayed(now time.Time) bool {
	if p.Status == StatusDelivered || p.ExpectedDate == "" {
		return false
	}
	expected, err := time.Parse("2006-01-02", p.ExpectedDate)
	if err != nil {
		return false
	}
	return now.After(expected.Add(24 * time.Hour))
}
