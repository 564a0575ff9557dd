package reduce

import (
	"fmt"
	"strings"
	"time"
)

// The creation transaction packs all free-form package attributes into one
// pipe-delimited description string; field order is fixed by the dApp form.
const descriptionDelimiter = "|"

// Attributes are the parsed fields of a creation description string.
type Attributes struct {
	Description            string
	Category               string
	Origin                 string
	Destination            string
	Quantity               string
	Handler                string
	Notes                  string
	ExpectedDate           string
	TemperatureRequirement string
}

// ParseDescription splits the delimited description. Missing trailing fields
// stay empty; old records with fewer fields still parse.
func ParseDescription(raw string) Attributes {
	parts := strings.Split(raw, descriptionDelimiter)
	field := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}
	return Attributes{
		Description:            field(0),
		Category:               field(1),
		Origin:                 field(2),
		Destination:            field(3),
		Quantity:               field(4),
		Handler:                field(5),
		Notes:                  field(6),
		ExpectedDate:           field(7),
		TemperatureRequirement: field(8),
	}
}

// DeriveID builds the external package identifier from the on-chain numeric
// id and the creation timestamp, e.g. id 7 created in 2025 -> "MED-2025-007".
func DeriveID(numericID uint64, createdAt uint64) string {
	year := time.Unix(int64(createdAt), 0).UTC().Year()
	return fmt.Sprintf("MED-%d-%03d", year, numericID)
}
