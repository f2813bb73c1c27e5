package handlers

import (
	"encoding/json"
	"net/http"

	"tempest-sync/internal/schema"
)

// OpenAPISpec returns the OpenAPI 3.0 document for the inspection API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	doc := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Tempest Sync Inspection API",
			"description": "Read-only views of Tempest observations synced into the local weather table",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local server"},
		},
		"paths": map[string]interface{}{
			routeDevices: getOperation(
				"List devices",
				"Row count and first/last timestamp stored per device",
				nil,
				listOf(deviceSummarySchema()),
			),
			routeCoverage: getOperation(
				"Device coverage",
				"Share of expected one-minute samples stored per device",
				[]map[string]interface{}{thresholdParameter()},
				listOf(coverageSchema()),
			),
			routeWatermark: getOperation(
				"Device watermark",
				"Newest stored timestamp of a device, 0 when it has no rows",
				[]map[string]interface{}{pathParameter("device_id")},
				objectOf(map[string]interface{}{
					"device_id": integer(),
					"watermark": integer(),
					"synced_at": map[string]interface{}{"type": "string", "format": "date-time", "nullable": true},
				}),
			),
			routeGaps: getOperation(
				"Device gaps",
				"Consecutive samples further apart than the threshold",
				[]map[string]interface{}{pathParameter("device_id"), thresholdParameter()},
				objectOf(map[string]interface{}{
					"device_id":         integer(),
					"threshold_seconds": integer(),
					"gaps": map[string]interface{}{
						"type": "array",
						"items": objectOf(map[string]interface{}{
							"start_timestamp": integer(),
							"end_timestamp":   integer(),
							"delta_seconds":   integer(),
						}),
					},
				}),
			),
			routeObservation: getOperation(
				"Get observation",
				"One stored sample; 404 when absent",
				[]map[string]interface{}{pathParameter("device_id"), pathParameter("timestamp")},
				observationSchema(),
			),
			"/health": getOperation(
				"Health check",
				"Pings the database; 503 when it is unreachable",
				nil,
				objectOf(map[string]interface{}{"status": map[string]string{"type": "string"}}),
			),
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Prometheus metrics",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func getOperation(summary, description string, parameters []map[string]interface{}, response interface{}) map[string]interface{} {
	op := map[string]interface{}{
		"summary":     summary,
		"description": description,
		"responses": map[string]interface{}{
			"200": map[string]interface{}{
				"description": "Successful response",
				"content": map[string]interface{}{
					"application/json": map[string]interface{}{"schema": response},
				},
			},
		},
	}
	if len(parameters) > 0 {
		op["parameters"] = parameters
	}
	return map[string]interface{}{"get": op}
}

func pathParameter(name string) map[string]interface{} {
	return map[string]interface{}{
		"name":     name,
		"in":       "path",
		"required": true,
		"schema":   integer(),
	}
}

func thresholdParameter() map[string]interface{} {
	return map[string]interface{}{
		"name":        "threshold",
		"in":          "query",
		"description": "Minimum spacing in seconds that counts as a gap",
		"required":    false,
		"schema":      map[string]interface{}{"type": "integer", "default": schema.DefaultGapThresholdSeconds},
	}
}

func integer() map[string]string {
	return map[string]string{"type": "integer"}
}

func objectOf(properties map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": properties}
}

func listOf(item interface{}) map[string]interface{} {
	return objectOf(map[string]interface{}{
		"data":  map[string]interface{}{"type": "array", "items": item},
		"total": integer(),
	})
}

func deviceSummarySchema() map[string]interface{} {
	return objectOf(map[string]interface{}{
		"device_id":       integer(),
		"record_count":    integer(),
		"first_timestamp": integer(),
		"last_timestamp":  integer(),
	})
}

func coverageSchema() map[string]interface{} {
	s := deviceSummarySchema()
	props := s["properties"].(map[string]interface{})
	props["expected_records"] = integer()
	props["coverage"] = map[string]string{"type": "number"}
	props["gap_count"] = integer()
	props["missing_seconds"] = integer()
	return s
}

// observationSchema describes the weather table row from its column list.
func observationSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(schema.Columns))
	for _, col := range schema.Columns {
		var typ string
		switch col.Kind {
		case schema.KindKey, schema.KindInteger:
			typ = "integer"
		case schema.KindText:
			typ = "string"
		default:
			typ = "number"
		}
		prop := map[string]interface{}{"type": typ}
		if col.Kind != schema.KindKey {
			prop["nullable"] = true
		}
		props[col.Name] = prop
	}
	return objectOf(props)
}
