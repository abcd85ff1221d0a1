package tools

import (
	"context"
	"fmt"
)

const airControlDescription = `
This JSON describes an action where the client application should interact with an air conditioning system.
The action is specified in the "intent" field, which can either adjust the temperature by a relative value (delta) or set it to an absolute value.
Additional details, such as the specific temperature change or target temperature, are provided in the corresponding fields within the "intent".
`

func airControlResponse(intentName string, intentData map[string]any) map[string]any {
	return map[string]any{
		"type":          "tools." + intentName,
		"description":   airControlDescription,
		"return_direct": true,
		"intent":        map[string]any{intentName: intentData},
	}
}

// AirControl sets the cabin temperature to an absolute value.
type AirControl struct{}

func (AirControl) Name() string { return "intent_aircontrol" }

func (AirControl) Description() string {
	return "Set the air conditioner's temperature to a specific target value."
}

func (AirControl) Parameters() map[string]any {
	return map[string]any{
		"temperature": map[string]any{
			"type": "number",
			"description": "Set the temperature in absolute values. " +
				"For example, it accepts an instruction to set the temperature to 27°C. " +
				"Set the temperature in 0.5° increments. For example, specify 10°, 10.5° and 11°.",
		},
	}
}

func (AirControl) Execute(_ context.Context, args map[string]any) (any, error) {
	temperature, ok := floatArg(args, "temperature")
	if !ok {
		return nil, fmt.Errorf("intent_aircontrol: temperature is required")
	}
	return airControlResponse("aircontrol", map[string]any{"temperature": temperature}), nil
}

// AirControlDelta adjusts the cabin temperature relative to the current
// setting.
type AirControlDelta struct{}

func (AirControlDelta) Name() string { return "intent_aircontrol_delta" }

func (AirControlDelta) Description() string {
	return "Adjust the air conditioner's temperature based on sensory temperature information."
}

func (AirControlDelta) Parameters() map[string]any {
	return map[string]any{
		"temperature_delta": map[string]any{
			"type": "number",
			"description": "Specify the temperature to be raised or lowered relative to the current temperature setting. " +
				"Adjust the temperature in 0.5 degree increments. " +
				"For example, decrease by 3 degrees if it's too hot, or increase by 1 degree if it's slightly cold.",
		},
	}
}

func (AirControlDelta) Execute(_ context.Context, args map[string]any) (any, error) {
	delta, ok := floatArg(args, "temperature_delta")
	if !ok {
		return nil, fmt.Errorf("intent_aircontrol_delta: temperature_delta is required")
	}
	return airControlResponse("aircontrol_delta", map[string]any{"temperature_delta": delta}), nil
}
