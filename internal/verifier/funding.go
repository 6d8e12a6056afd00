package verifier

import (
	"fmt"
	"math"

	"lifeline/internal/config"
	"lifeline/internal/event"
	"lifeline/internal/services"
)

// Recipient roles, in payout order.
const (
	RoleNGO        = "emergency_ngo"
	RoleGovernment = "local_government"
	RoleRelief     = "disaster_relief"
)

const (
	minHumanImpact = 1
	maxHumanImpact = 10000
	// impactPivot is the human-impact count at which the funding impact
	// factor reaches 1x; it caps at 2x.
	impactPivot     = 1000.0
	maxImpactFactor = 2.0
)

// impactBases are per-type baseline affected-person counts.
var impactBases = map[event.DisasterType]float64{
	event.DisasterFire:       100,
	event.DisasterFlood:      150,
	event.DisasterStructural: 200,
	event.DisasterCasualty:   500,
}

// fundingBases are per-type baseline amounts in settlement currency units.
var fundingBases = map[event.DisasterType]float64{
	event.DisasterFire:       0.1,
	event.DisasterFlood:      0.15,
	event.DisasterStructural: 0.2,
	event.DisasterCasualty:   0.5,
}

// fundingSplit is the share of the total each role receives. Shares sum
// to 1 for every type.
type fundingSplit struct {
	ngo        float64
	government float64
	relief     float64
}

var fundingSplits = map[event.DisasterType]fundingSplit{
	event.DisasterFire:       {ngo: 0.4, government: 0.3, relief: 0.3},
	event.DisasterFlood:      {ngo: 0.4, government: 0.3, relief: 0.3},
	event.DisasterStructural: {ngo: 0.2, government: 0.6, relief: 0.2},
	event.DisasterCasualty:   {ngo: 0.6, government: 0.3, relief: 0.1},
}

// HumanImpact estimates affected people from type, severity, confidence,
// and a coarse population-density factor, clamped to [1, 10000].
func HumanImpact(det *event.Detection) int {
	base, ok := impactBases[det.Type]
	if !ok {
		base = impactBases[event.DisasterFire]
	}
	impact := int(base * det.Severity * det.Confidence * densityFactor(det.Latitude, det.Longitude))
	if impact < minHumanImpact {
		return minHumanImpact
	}
	if impact > maxHumanImpact {
		return maxHumanImpact
	}
	return impact
}

// densityFactor approximates population density from coordinates: the
// heavily populated coordinate band weighs extra, everywhere else is 1x.
func densityFactor(lat, lon float64) float64 {
	if math.Abs(lat) < 40 && math.Abs(lon) < 100 {
		return 2.25
	}
	return 1.0
}

// RecommendedTotal derives the funding amount: the per-type base scaled
// by verification score, severity, and human impact, clamped to the
// configured range.
func RecommendedTotal(det *event.Detection, score, humanImpact int, minAmount, maxAmount float64) float64 {
	base, ok := fundingBases[det.Type]
	if !ok {
		base = fundingBases[event.DisasterFire]
	}
	impactFactor := math.Min(maxImpactFactor, float64(humanImpact)/impactPivot)
	total := base * (float64(score) / 100) * det.Severity * impactFactor

	if total < minAmount {
		total = minAmount
	}
	if maxAmount > 0 && total > maxAmount {
		total = maxAmount
	}
	return total
}

// SplitRecipients divides the total across the configured addresses using
// the per-type shares. Casualty events favor the NGO; structural damage
// favors the government rebuild channel.
func SplitRecipients(dtype event.DisasterType, total float64, cfg *config.Config) ([]event.Recipient, error) {
	split, ok := fundingSplits[dtype]
	if !ok {
		split = fundingSplits[event.DisasterFire]
	}
	shares := []struct {
		role  string
		share float64
	}{
		{RoleNGO, split.ngo},
		{RoleGovernment, split.government},
		{RoleRelief, split.relief},
	}

	recipients := make([]event.Recipient, 0, len(shares))
	for _, s := range shares {
		addr := cfg.RecipientAddress(s.role)
		if addr == "" {
			return nil, services.Wrap(services.ErrConfiguration, "verifier", "split recipients",
				fmt.Sprintf("no address configured for role %s", s.role), nil)
		}
		recipients = append(recipients, event.Recipient{
			Address: addr,
			Role:    s.role,
			Amount:  s.share * total,
		})
	}
	return recipients, nil
}
