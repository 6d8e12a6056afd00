package event

import (
	"fmt"
	"time"

	"lifeline/internal/services"
)

// DisasterType tags the category of a detected disaster.
type DisasterType string

const (
	DisasterFire       DisasterType = "fire"
	DisasterFlood      DisasterType = "flood"
	DisasterStructural DisasterType = "structural"
	DisasterCasualty   DisasterType = "casualty"
)

// Valid reports whether the disaster type is recognized.
func (d DisasterType) Valid() bool {
	switch d {
	case DisasterFire, DisasterFlood, DisasterStructural, DisasterCasualty:
		return true
	}
	return false
}

// DisasterTypes lists all recognized disaster types in a stable order.
func DisasterTypes() []DisasterType {
	return []DisasterType{DisasterFire, DisasterFlood, DisasterStructural, DisasterCasualty}
}

// Observation is a raw capture record entering the pipeline: media bytes plus
// capture metadata and the source device's own signal estimates per disaster
// type, used by the default analyzer.
type Observation struct {
	Source     string             `json:"source"`
	CapturedAt time.Time          `json:"captured_at"`
	Latitude   float64            `json:"latitude"`
	Longitude  float64            `json:"longitude"`
	MediaType  string             `json:"media_type,omitempty"`
	SizeBytes  int64              `json:"size_bytes,omitempty"`
	Media      []byte             `json:"media,omitempty"`
	Signals    map[string]float64 `json:"signals,omitempty"`
}

// Validate checks observation invariants.
func (o *Observation) Validate() error {
	if o.Source == "" {
		return services.Wrap(services.ErrValidation, "event", "observation", "missing source tag", nil)
	}
	if o.CapturedAt.IsZero() {
		return services.Wrap(services.ErrValidation, "event", "observation", "missing capture time", nil)
	}
	for name, value := range o.Signals {
		if value < 0 || value > 1 {
			return services.Wrap(services.ErrValidation, "event", "observation", fmt.Sprintf("signal %q out of range [0,1]: %v", name, value), nil)
		}
	}
	return nil
}

// Detection is the detector's assessment of an observation.
type Detection struct {
	Type       DisasterType `json:"type"`
	Severity   float64      `json:"severity"`
	Confidence float64      `json:"confidence"`
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	Source     string       `json:"source,omitempty"`
}

// Validate checks detection invariants.
func (d *Detection) Validate() error {
	if !d.Type.Valid() {
		return services.Wrap(services.ErrValidation, "event", "detection", fmt.Sprintf("unknown disaster type %q", d.Type), nil)
	}
	if d.Severity < 0 || d.Severity > 1 {
		return services.Wrap(services.ErrValidation, "event", "detection", fmt.Sprintf("severity out of range [0,1]: %v", d.Severity), nil)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return services.Wrap(services.ErrValidation, "event", "detection", fmt.Sprintf("confidence out of range [0,1]: %v", d.Confidence), nil)
	}
	return nil
}

// Recipient is one funding target within a disbursement.
type Recipient struct {
	Address string  `json:"address"`
	Role    string  `json:"role"`
	Amount  float64 `json:"amount"`
}

// Verification is the audit summary attached to a passing disbursement.
type Verification struct {
	Score            int     `json:"score"`
	Threshold        int     `json:"threshold"`
	HumanImpact      int     `json:"human_impact"`
	RecommendedTotal float64 `json:"recommended_total"`
}

// Disbursement is the verifier's funding instruction. Amounts are final once
// published; the disburser never recomputes them.
type Disbursement struct {
	Recipients   []Recipient  `json:"recipients"`
	Verification Verification `json:"verification"`
}

// Total sums the per-recipient amounts.
func (d *Disbursement) Total() float64 {
	var total float64
	for _, r := range d.Recipients {
		total += r.Amount
	}
	return total
}

// Validate checks disbursement invariants: non-empty recipients, positive
// amounts, addresses present.
func (d *Disbursement) Validate() error {
	if len(d.Recipients) == 0 {
		return services.Wrap(services.ErrValidation, "event", "disbursement", "no recipients", nil)
	}
	for i, r := range d.Recipients {
		if r.Address == "" {
			return services.Wrap(services.ErrValidation, "event", "disbursement", fmt.Sprintf("recipient %d missing address", i), nil)
		}
		if r.Amount <= 0 {
			return services.Wrap(services.ErrValidation, "event", "disbursement", fmt.Sprintf("recipient %d amount must be positive, got %v", i, r.Amount), nil)
		}
	}
	if d.Verification.Score < 0 || d.Verification.Score > 100 {
		return services.Wrap(services.ErrValidation, "event", "disbursement", fmt.Sprintf("verification score out of range [0,100]: %d", d.Verification.Score), nil)
	}
	return nil
}
