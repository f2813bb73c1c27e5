package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullRow() RawObservation {
	return RawObservation{
		"device_id":                "123456",
		"timestamp":                "1690000000",
		"type":                     "obs_st",
		"bucket_step_minutes":      "1",
		"wind_lull":                "0.5",
		"wind_avg":                 "1.2",
		"wind_gust":                "2.8",
		"wind_dir":                 "270",
		"wind_interval":            "3",
		"pressure":                 "1012.3",
		"temperature":              "21.5",
		"humidity":                 "64",
		"lux":                      "10500",
		"uv":                       "2.1",
		"solar_radiation":          "88",
		"precip":                   "0",
		"precip_type":              "0",
		"strike_distance":          "",
		"strike_count":             "0",
		"battery":                  "2.65",
		"report_interval":          "1",
		"local_daily_precip":       "0.2",
		"precip_final":             "",
		"local_daily_precip_final": "",
		"precip_analysis_type":     "",
	}
}

func TestRawObservation_ToObservation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(RawObservation)
		wantErr     bool
		wantField   string
		checkValues func(*testing.T, *Observation)
	}{
		{
			name: "complete row",
			checkValues: func(t *testing.T, obs *Observation) {
				assert.Equal(t, int64(123456), obs.DeviceID)
				assert.Equal(t, int64(1690000000), obs.Timestamp)
				require.NotNil(t, obs.Type)
				assert.Equal(t, "obs_st", *obs.Type)
				require.NotNil(t, obs.BucketStepMinutes)
				assert.Equal(t, int64(1), *obs.BucketStepMinutes)
				require.NotNil(t, obs.Temperature)
				assert.Equal(t, 21.5, *obs.Temperature)
				require.NotNil(t, obs.PrecipType)
				assert.Equal(t, "0", *obs.PrecipType)
			},
		},
		{
			name: "empty fields become NULL",
			checkValues: func(t *testing.T, obs *Observation) {
				assert.Nil(t, obs.StrikeDistance)
				assert.Nil(t, obs.PrecipFinal)
				assert.Nil(t, obs.LocalDailyPrecipFinal)
				assert.Nil(t, obs.PrecipAnalysisType)
			},
		},
		{
			name:   "surrounding whitespace is ignored",
			mutate: func(r RawObservation) { r["pressure"] = " 1000.5 " },
			checkValues: func(t *testing.T, obs *Observation) {
				require.NotNil(t, obs.Pressure)
				assert.Equal(t, 1000.5, *obs.Pressure)
			},
		},
		{
			name:   "integral decimal accepted for integer column",
			mutate: func(r RawObservation) { r["bucket_step_minutes"] = "5.0" },
			checkValues: func(t *testing.T, obs *Observation) {
				require.NotNil(t, obs.BucketStepMinutes)
				assert.Equal(t, int64(5), *obs.BucketStepMinutes)
			},
		},
		{
			name:      "missing device_id",
			mutate:    func(r RawObservation) { r["device_id"] = "" },
			wantErr:   true,
			wantField: "device_id",
		},
		{
			name:      "non numeric sensor value",
			mutate:    func(r RawObservation) { r["temperature"] = "warm" },
			wantErr:   true,
			wantField: "temperature",
		},
		{
			name:      "fractional integer",
			mutate:    func(r RawObservation) { r["bucket_step_minutes"] = "1.5" },
			wantErr:   true,
			wantField: "bucket_step_minutes",
		},
		{
			name:      "NaN rejected",
			mutate:    func(r RawObservation) { r["humidity"] = "NaN" },
			wantErr:   true,
			wantField: "humidity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := fullRow()
			if tt.mutate != nil {
				tt.mutate(raw)
			}

			obs, err := raw.ToObservation()

			if tt.wantErr {
				require.Error(t, err)
				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.wantField, verr.Field)
				assert.Nil(t, obs)
				return
			}

			require.NoError(t, err)
			if tt.checkValues != nil {
				tt.checkValues(t, obs)
			}
		})
	}
}

func TestToObservationReportsFirstBadField(t *testing.T) {
	raw := fullRow()
	raw["device_id"] = "abc"
	raw["humidity"] = "wet"

	_, err := raw.ToObservation()

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "device_id", verr.Field)
	assert.Equal(t, "abc", verr.Value)
}

func TestToObservationRejectsAbsentColumns(t *testing.T) {
	for _, column := range []string{"timestamp", "lux", "precip_analysis_type"} {
		t.Run(column, func(t *testing.T) {
			raw := fullRow()
			delete(raw, column)

			obs, err := raw.ToObservation()

			var missing *MissingColumnError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, column, missing.Column)
			assert.Contains(t, err.Error(), column)
			assert.False(t, missing.IsTransient())
			assert.Nil(t, obs)
		})
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:   "timestamp",
		Value:   "invalid",
		Message: "timestamp: invalid integer",
	}

	assert.Equal(t, "timestamp: invalid integer", err.Error())
	assert.False(t, err.IsTransient())
}
