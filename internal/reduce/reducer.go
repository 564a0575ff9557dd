// Package reduce folds the decoded event streams into the projected current
// state of every package. Each attribute family (status, temperature, owner)
// resolves independently by latest timestamp.
package reduce

import (
	"sort"

	"supplytrace/internal/model"
)

// Inputs are the four decoded event streams of one reduction.
type Inputs struct {
	Created     []model.PackageCreated
	Status      []model.StatusUpdated
	Temperature []model.TemperatureUpdated
	Transfers   []model.OwnershipTransferred
}

// latest tracks the winning event of one attribute family for one package.
// Strictly newer timestamps win; equal timestamps fall back to the higher log
// index, so same-block ordering is deterministic rather than provider order.
type latest struct {
	ts       uint64
	logIndex uint64
	set      bool
}

func (l latest) beats(ts, logIndex uint64) bool {
	if !l.set {
		return true
	}
	if ts != l.ts {
		return ts > l.ts
	}
	return logIndex > l.logIndex
}

type statusEntry struct {
	latest
	status model.Status
}

type temperatureEntry struct {
	latest
	temperature int64
}

type ownerEntry struct {
	latest
	owner string
}

// Reduce builds the package map from the event streams, merged over prev.
// Entries in prev whose id is absent from this creation batch are preserved;
// status/temperature/transfer events without a matching creation event are
// skipped (their package is expected to already exist in prev).
func Reduce(in Inputs, prev map[string]model.Package) map[string]model.Package {
	statusBy := make(map[string]statusEntry)
	for _, event := range in.Status {
		key := event.PackageID.String()
		if statusBy[key].beats(event.Timestamp, event.LogIndex) {
			statusBy[key] = statusEntry{
				latest: latest{ts: event.Timestamp, logIndex: event.LogIndex, set: true},
				status: model.Status(event.NewStatus),
			}
		}
	}

	temperatureBy := make(map[string]temperatureEntry)
	for _, event := range in.Temperature {
		key := event.PackageID.String()
		if temperatureBy[key].beats(event.Timestamp, event.LogIndex) {
			temperatureBy[key] = temperatureEntry{
				latest:      latest{ts: event.Timestamp, logIndex: event.LogIndex, set: true},
				temperature: event.Temperature.Int64(),
			}
		}
	}

	ownerBy := make(map[string]ownerEntry)
	for _, event := range in.Transfers {
		key := event.PackageID.String()
		if ownerBy[key].beats(event.Timestamp, event.LogIndex) {
			ownerBy[key] = ownerEntry{
				latest: latest{ts: event.Timestamp, logIndex: event.LogIndex, set: true},
				owner:  event.NewOwner,
			}
		}
	}

	out := make(map[string]model.Package, len(prev)+len(in.Created))
	for id, pkg := range prev {
		out[id] = pkg
	}

	for _, created := range in.Created {
		key := created.PackageID.String()
		pkg := buildPackage(created)

		if entry, ok := statusBy[key]; ok {
			pkg.Status = entry.status
			if entry.ts > pkg.LastUpdated {
				pkg.LastUpdated = entry.ts
			}
		}
		if entry, ok := temperatureBy[key]; ok {
			temperature := entry.temperature
			pkg.TemperatureReading = &temperature
			if entry.ts > pkg.LastUpdated {
				pkg.LastUpdated = entry.ts
			}
		}
		if entry, ok := ownerBy[key]; ok {
			pkg.CurrentOwner = entry.owner
			if entry.ts > pkg.LastUpdated {
				pkg.LastUpdated = entry.ts
			}
		}

		out[pkg.ID] = pkg
	}

	return out
}

func buildPackage(created model.PackageCreated) model.Package {
	attrs := ParseDescription(created.Description)
	numericID := created.PackageID.Uint64()
	return model.Package{
		ID:                     DeriveID(numericID, created.Timestamp),
		NumericID:              numericID,
		Description:            attrs.Description,
		Category:               attrs.Category,
		Origin:                 attrs.Origin,
		Destination:            attrs.Destination,
		Quantity:               attrs.Quantity,
		Handler:                attrs.Handler,
		Notes:                  attrs.Notes,
		ExpectedDate:           attrs.ExpectedDate,
		TemperatureRequirement: attrs.TemperatureRequirement,
		CurrentOwner:           created.Creator,
		Status:                 model.StatusManufacturing,
		CreatedAt:              created.Timestamp,
		LastUpdated:            created.Timestamp,
	}
}

// SortedList flattens the package map into a slice ordered by external id,
// the shape published to subscribers.
func SortedList(packages map[string]model.Package) []model.Package {
	out := make([]model.Package, 0, len(packages))
	for _, pkg := range packages {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
