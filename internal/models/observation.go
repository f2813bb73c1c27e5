package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Observation is one minute of Tempest device telemetry.
// Nullable sensor readings are pointers; (DeviceID, Timestamp) identifies the row.
type Observation struct {
	DeviceID              int64    `json:"device_id" db:"device_id"`
	Timestamp             int64    `json:"timestamp" db:"timestamp"`
	Type                  *string  `json:"type,omitempty" db:"type"`
	BucketStepMinutes     *int64   `json:"bucket_step_minutes,omitempty" db:"bucket_step_minutes"`
	WindLull              *float64 `json:"wind_lull,omitempty" db:"wind_lull"`
	WindAvg               *float64 `json:"wind_avg,omitempty" db:"wind_avg"`
	WindGust              *float64 `json:"wind_gust,omitempty" db:"wind_gust"`
	WindDir               *float64 `json:"wind_dir,omitempty" db:"wind_dir"`
	WindInterval          *float64 `json:"wind_interval,omitempty" db:"wind_interval"`
	Pressure              *float64 `json:"pressure,omitempty" db:"pressure"`
	Temperature           *float64 `json:"temperature,omitempty" db:"temperature"`
	Humidity              *float64 `json:"humidity,omitempty" db:"humidity"`
	Lux                   *float64 `json:"lux,omitempty" db:"lux"`
	UV                    *float64 `json:"uv,omitempty" db:"uv"`
	SolarRadiation        *float64 `json:"solar_radiation,omitempty" db:"solar_radiation"`
	Precip                *float64 `json:"precip,omitempty" db:"precip"`
	PrecipType            *string  `json:"precip_type,omitempty" db:"precip_type"`
	StrikeDistance        *float64 `json:"strike_distance,omitempty" db:"strike_distance"`
	StrikeCount           *float64 `json:"strike_count,omitempty" db:"strike_count"`
	Battery               *float64 `json:"battery,omitempty" db:"battery"`
	ReportInterval        *float64 `json:"report_interval,omitempty" db:"report_interval"`
	LocalDailyPrecip      *float64 `json:"local_daily_precip,omitempty" db:"local_daily_precip"`
	PrecipFinal           *float64 `json:"precip_final,omitempty" db:"precip_final"`
	LocalDailyPrecipFinal *float64 `json:"local_daily_precip_final,omitempty" db:"local_daily_precip_final"`
	PrecipAnalysisType    *string  `json:"precip_analysis_type,omitempty" db:"precip_analysis_type"`
}

// RawObservation is one CSV data line from the Tempest API, keyed by header name.
type RawObservation map[string]string

// ToObservation converts the raw text fields into a typed Observation.
// Every column must be present; empty fields become NULL, except device_id and
// timestamp which are required.
func (r RawObservation) ToObservation() (*Observation, error) {
	p := &fieldParser{raw: r}

	obs := &Observation{
		DeviceID:              p.requiredInteger("device_id"),
		Timestamp:             p.requiredInteger("timestamp"),
		Type:                  p.text("type"),
		BucketStepMinutes:     p.integer("bucket_step_minutes"),
		WindLull:              p.real("wind_lull"),
		WindAvg:               p.real("wind_avg"),
		WindGust:              p.real("wind_gust"),
		WindDir:               p.real("wind_dir"),
		WindInterval:          p.real("wind_interval"),
		Pressure:              p.real("pressure"),
		Temperature:           p.real("temperature"),
		Humidity:              p.real("humidity"),
		Lux:                   p.real("lux"),
		UV:                    p.real("uv"),
		SolarRadiation:        p.real("solar_radiation"),
		Precip:                p.real("precip"),
		PrecipType:            p.text("precip_type"),
		StrikeDistance:        p.real("strike_distance"),
		StrikeCount:           p.real("strike_count"),
		Battery:               p.real("battery"),
		ReportInterval:        p.real("report_interval"),
		LocalDailyPrecip:      p.real("local_daily_precip"),
		PrecipFinal:           p.real("precip_final"),
		LocalDailyPrecipFinal: p.real("local_daily_precip_final"),
		PrecipAnalysisType:    p.text("precip_analysis_type"),
	}

	if p.err != nil {
		return nil, p.err
	}
	return obs, nil
}

// fieldParser keeps the first conversion error so ToObservation reads as a single literal.
type fieldParser struct {
	raw RawObservation
	err error
}

func (p *fieldParser) value(field string) string {
	v, ok := p.raw[field]
	if !ok {
		if p.err == nil {
			p.err = &MissingColumnError{Column: field}
		}
		return ""
	}
	return strings.TrimSpace(v)
}

func (p *fieldParser) fail(field, value, message string) {
	if p.err == nil {
		p.err = &ValidationError{Field: field, Value: value, Message: message}
	}
}

func (p *fieldParser) requiredInteger(field string) int64 {
	v := p.value(field)
	if v == "" {
		p.fail(field, v, fmt.Sprintf("%s is required", field))
		return 0
	}
	n, ok := parseInteger(v)
	if !ok {
		p.fail(field, v, fmt.Sprintf("%s: invalid integer %q", field, v))
	}
	return n
}

func (p *fieldParser) integer(field string) *int64 {
	v := p.value(field)
	if v == "" {
		return nil
	}
	n, ok := parseInteger(v)
	if !ok {
		p.fail(field, v, fmt.Sprintf("%s: invalid integer %q", field, v))
		return nil
	}
	return &n
}

func (p *fieldParser) real(field string) *float64 {
	v := p.value(field)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail(field, v, fmt.Sprintf("%s: invalid number %q", field, v))
		return nil
	}
	return &f
}

func (p *fieldParser) text(field string) *string {
	v := p.value(field)
	if v == "" {
		return nil
	}
	return &v
}

// parseInteger accepts plain integers and integral decimals such as "1.0".
func parseInteger(v string) (int64, bool) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// DeviceSummary describes what the local store holds for one device.
type DeviceSummary struct {
	DeviceID       int64 `json:"device_id" db:"device_id"`
	RecordCount    int64 `json:"record_count" db:"record_count"`
	FirstTimestamp int64 `json:"first_timestamp" db:"first_timestamp"`
	LastTimestamp  int64 `json:"last_timestamp" db:"last_timestamp"`
}

// Gap is a hole in a device's time series wider than the expected sampling interval.
type Gap struct {
	StartTimestamp int64 `json:"start_timestamp" db:"start_timestamp"`
	EndTimestamp   int64 `json:"end_timestamp" db:"end_timestamp"`
	DeltaSeconds   int64 `json:"delta_seconds" db:"delta_seconds"`
}

// ValidationError represents a field that could not be converted
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// MissingColumnError reports a weather column absent from the input header.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing column %q", e.Column)
}

// IsTransient returns false as a malformed header does not fix itself
func (e *MissingColumnError) IsTransient() bool {
	return false
}

// DeviceCoverage reports how completely a device's time span is filled with
// one-minute samples.
type DeviceCoverage struct {
	DeviceSummary
	ExpectedRecords int64   `json:"expected_records"`
	Coverage        float64 `json:"coverage"`
	GapCount        int     `json:"gap_count"`
	MissingSeconds  int64   `json:"missing_seconds"`
}
