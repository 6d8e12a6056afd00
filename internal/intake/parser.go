// Package intake feeds observations into the pipeline from sources other
// than the daemon API, currently the hardware serial bridge.
package intake

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"lifeline/internal/detector"
	"lifeline/internal/event"
	"lifeline/internal/services"
)

// bridgeReading is the line format capture devices emit: confidence on a
// 0-100 scale, severity already normalized to [0,1], location "lat,lon".
type bridgeReading struct {
	Type       string   `json:"type"`
	SensorType string   `json:"sensor_type"`
	Confidence float64  `json:"confidence"`
	Severity   *float64 `json:"severity"`
	Location   string   `json:"location"`
}

// readingType is the only line type the bridge forwards. Devices mix
// debug chatter between readings; everything else is skipped.
const readingType = "disaster_event"

// defaultSeverity stands in when the device omits its severity estimate.
const defaultSeverity = 0.5

// ParseLine extracts an observation from one serial line. Firmware often
// interleaves readings with boot and debug text, so the parser scans for
// the outermost braces before decoding. Lines without a disaster reading
// return (nil, nil); broken JSON inside braces is a validation error.
func ParseLine(line, source string) (*event.Event, error) {
	start := strings.IndexByte(line, '{')
	end := strings.LastIndexByte(line, '}')
	if start == -1 || end <= start {
		return nil, nil
	}

	var reading bridgeReading
	if err := json.Unmarshal([]byte(line[start:end+1]), &reading); err != nil {
		return nil, services.Wrap(services.ErrValidation, "intake", "parse line", "malformed bridge reading", err)
	}
	if reading.Type != readingType {
		return nil, nil
	}

	severity := defaultSeverity
	if reading.Severity != nil {
		severity = clamp01(*reading.Severity)
	}
	signals := map[string]float64{
		detector.SeverityHint: severity,
	}
	if sensor := strings.TrimSpace(reading.SensorType); sensor != "" {
		signals[sensor] = clamp01(reading.Confidence / 100)
	}

	lat, lon := parseLocation(reading.Location)
	ev := event.NewObservation(event.Observation{
		Source:     source,
		CapturedAt: time.Now().UTC(),
		Latitude:   lat,
		Longitude:  lon,
		Signals:    signals,
	})
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// parseLocation splits a "lat,lon" pair; anything unparseable pins the
// reading to the null island origin rather than rejecting it.
func parseLocation(location string) (float64, float64) {
	parts := strings.Split(location, ",")
	if len(parts) != 2 {
		return 0, 0
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0
	}
	return lat, lon
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
