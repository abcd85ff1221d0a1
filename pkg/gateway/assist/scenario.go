package assist

import "encoding/json"

// scenarios maps demo actions to canned vehicle telemetry replayed after a
// demo trigger.
var scenarios = map[string]json.RawMessage{
	"start_autonomous": json.RawMessage(`{
		"current_location": {"lat": 35.6895, "lon": 139.6917},
		"destination_info": {"distance_km": 160.0, "eta_sec": 8200},
		"driving_status": "autonomous",
		"network_status": "good",
		"vehicle_speed": 100,
		"energy_status": {"battery_level": 70, "charging": false}
	}`),
	"start_ev_charge": json.RawMessage(`{
		"current_location": {"lat": 34.6937, "lon": 135.5023},
		"destination_info": {"distance_km": 20.0, "eta_sec": 1500},
		"driving_status": "charging",
		"network_status": "good",
		"vehicle_speed": 0,
		"energy_status": {"battery_level": 35, "charging": true}
	}`),
	"start_battery_level_low": json.RawMessage(`{
		"current_location": {"lat": 35.6895, "lon": 139.6917},
		"destination_info": {"distance_km": 50.0, "eta_sec": 3600},
		"driving_status": "manual",
		"network_status": "good",
		"vehicle_speed": 50,
		"energy_status": {"battery_level": 15, "charging": false}
	}`),
}

// ScenarioVehicleData returns the canned telemetry for a demo action.
func ScenarioVehicleData(action string) (json.RawMessage, bool) {
	data, ok := scenarios[action]
	return data, ok
}
