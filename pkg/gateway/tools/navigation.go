package tools

import "context"

// LaunchNavigation asks the client to open its navigation application for a
// destination. A destination string wins over coordinates when both are set.
type LaunchNavigation struct{}

func (LaunchNavigation) Name() string { return "intent_googlenavigation" }

func (LaunchNavigation) Description() string {
	return "Use this function to provide route guidance to a specified location. " +
		"Use 'destination' if available, otherwise specify latitude and longitude."
}

func (LaunchNavigation) Parameters() map[string]any {
	return map[string]any{
		"latitude": map[string]any{
			"type":        "number",
			"description": "Specify the Latitude of the destination.",
		},
		"longitude": map[string]any{
			"type":        "number",
			"description": "Specify the Longitude of the destination.",
		},
		"destination": map[string]any{
			"type":        "string",
			"description": "Specify the destination as a string (e.g., a city name or address).",
		},
	}
}

func (LaunchNavigation) Execute(_ context.Context, args map[string]any) (any, error) {
	navigation := map[string]any{"navi_application": "googlemap"}
	if destination, ok := stringArg(args, "destination"); ok {
		navigation["destination"] = destination
	} else {
		latitude, _ := floatArg(args, "latitude")
		longitude, _ := floatArg(args, "longitude")
		navigation["latitude"] = latitude
		navigation["longitude"] = longitude
	}
	return map[string]any{
		"type":          "tools.launchnavigation",
		"return_direct": true,
		"intent":        map[string]any{"navigation": navigation},
	}, nil
}
