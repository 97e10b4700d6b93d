package dashboard

import "airamed/pkg/types"

// Tier is the stress classification derived from an occupancy ratio
type Tier string

const (
	TierNormal   Tier = "normal"
	TierElevated Tier = "elevated"
	TierCritical Tier = "critical"
)

// Stress thresholds on occupancy ratio
const (
	ElevatedThreshold = 0.8
	CriticalThreshold = 0.9

	// OxygenLowPercent is the supply level at or below which oxygen is flagged
	OxygenLowPercent = 30.0
)

// OccupancyRatio is occupied/total; a zero total reads as empty
func OccupancyRatio(occupied, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(occupied) / float64(total)
}

// Classify maps a ratio onto its stress tier
func Classify(ratio float64) Tier {
	switch {
	case ratio >= CriticalThreshold:
		return TierCritical
	case ratio >= ElevatedThreshold:
		return TierElevated
	default:
		return TierNormal
	}
}

// Stressed reports whether a tier warrants attention
func (t Tier) Stressed() bool {
	return t != TierNormal
}

// OxygenLow reports whether oxygen supply needs attention
func OxygenLow(percent float64) bool {
	return percent <= OxygenLowPercent
}

// ResourceCard is one per-resource summary of a facility
type ResourceCard struct {
	Resource types.Resource `json:"resource"`
	Label    string         `json:"label"`
	Used     int            `json:"used,omitempty"`
	Total    int            `json:"total,omitempty"`
	Ratio    float64        `json:"ratio"`
	Tier     Tier           `json:"tier"`
	Percent  float64        `json:"percent,omitempty"`
	Status   string         `json:"status,omitempty"`
	Low      bool           `json:"low,omitempty"`
}

// ResourceCards derives the bed, ventilator and oxygen cards for a facility
func ResourceCards(f types.FacilitySnapshot) []ResourceCard {
	beds := OccupancyRatio(f.BedsOccupied, f.BedsTotal)
	vents := OccupancyRatio(f.VentilatorsInUse, f.VentilatorsTotal)
	return []ResourceCard{
		{Resource: types.ResourceBed, Label: "Beds", Used: f.BedsOccupied, Total: f.BedsTotal, Ratio: beds, Tier: Classify(beds)},
		{Resource: types.ResourceVentilator, Label: "Ventilators", Used: f.VentilatorsInUse, Total: f.VentilatorsTotal, Ratio: vents, Tier: Classify(vents)},
		{
			Resource: types.ResourceOxygen,
			Label:    "Oxygen",
			Ratio:    f.OxygenPercent / 100,
			Tier:     oxygenTier(f.OxygenPercent),
			Percent:  f.OxygenPercent,
			Status:   f.OxygenStatus,
			Low:      OxygenLow(f.OxygenPercent),
		},
	}
}

func oxygenTier(percent float64) Tier {
	if OxygenLow(percent) {
		return TierCritical
	}
	return TierNormal
}

// FacilityCard is the network grid entry for one facility
type FacilityCard struct {
	FacilityID       string  `json:"facility_id"`
	Name             string  `json:"name"`
	City             string  `json:"city"`
	BedsOccupied     int     `json:"beds_occupied"`
	BedsTotal        int     `json:"beds_total"`
	VentilatorsInUse int     `json:"ventilators_in_use"`
	VentilatorsTotal int     `json:"ventilators_total"`
	OxygenPercent    float64 `json:"oxygen_percent"`
	BedRatio         float64 `json:"bed_ratio"`
	Tier             Tier    `json:"tier"`
	OxygenLow        bool    `json:"oxygen_low"`
}

// NetworkCards derives one card per facility, preserving server order
func NetworkCards(snapshot types.NetworkSnapshot) []FacilityCard {
	cards := make([]FacilityCard, 0, len(snapshot))
	for _, f := range snapshot {
		ratio := OccupancyRatio(f.BedsOccupied, f.BedsTotal)
		cards = append(cards, FacilityCard{
			FacilityID:       f.FacilityID,
			Name:             f.Name,
			City:             f.City,
			BedsOccupied:     f.BedsOccupied,
			BedsTotal:        f.BedsTotal,
			VentilatorsInUse: f.VentilatorsInUse,
			VentilatorsTotal: f.VentilatorsTotal,
			OxygenPercent:    f.OxygenPercent,
			BedRatio:         ratio,
			Tier:             Classify(ratio),
			OxygenLow:        OxygenLow(f.OxygenPercent),
		})
	}
	return cards
}

// NetworkTotals aggregates capacity across every facility
type NetworkTotals struct {
	Facilities       int     `json:"facilities"`
	BedsOccupied     int     `json:"beds_occupied"`
	BedsTotal        int     `json:"beds_total"`
	VentilatorsInUse int     `json:"ventilators_in_use"`
	VentilatorsTotal int     `json:"ventilators_total"`
	BedRatio         float64 `json:"bed_ratio"`
	Tier             Tier    `json:"tier"`
	CriticalCount    int     `json:"critical_count"`
	ElevatedCount    int     `json:"elevated_count"`
	OxygenLowCount   int     `json:"oxygen_low_count"`
}

// Aggregate sums a network snapshot into totals
func Aggregate(snapshot types.NetworkSnapshot) NetworkTotals {
	var totals NetworkTotals
	for _, f := range snapshot {
		totals.Facilities++
		totals.BedsOccupied += f.BedsOccupied
		totals.BedsTotal += f.BedsTotal
		totals.VentilatorsInUse += f.VentilatorsInUse
		totals.VentilatorsTotal += f.VentilatorsTotal

		switch Classify(OccupancyRatio(f.BedsOccupied, f.BedsTotal)) {
		case TierCritical:
			totals.CriticalCount++
		case TierElevated:
			totals.ElevatedCount++
		}
		if OxygenLow(f.OxygenPercent) {
			totals.OxygenLowCount++
		}
	}
	totals.BedRatio = OccupancyRatio(totals.BedsOccupied, totals.BedsTotal)
	totals.Tier = Classify(totals.BedRatio)
	return totals
}
