// Package assist turns vehicle telemetry into proactive suggestions: it
// enriches incoming status reports with the logged-in user's profile, asks
// the suggestion generator for candidate proposals, and arbitrates them down
// to at most one delivered suggestion per report.
package assist

import "encoding/json"

// Profile is the demo viewer profile attached to vehicle status reports.
type Profile struct {
	UserName           string   `json:"user_name"`
	ViewerRole         string   `json:"viewer_role"`
	ViewerAge          int      `json:"viewer_age"`
	PreferredGenres    []string `json:"preferred_genres"`
	RecentWatchHistory []string `json:"recent_watch_history"`
}

// Profiles maps user names to profiles, with at most one alias indirection
// per lookup.
type Profiles struct {
	byName  map[string]Profile
	aliases map[string]string
}

func NewProfiles(profiles []Profile, aliases map[string]string) *Profiles {
	p := &Profiles{
		byName:  make(map[string]Profile, len(profiles)),
		aliases: make(map[string]string, len(aliases)),
	}
	for _, profile := range profiles {
		p.byName[profile.UserName] = profile
	}
	for alias, canonical := range aliases {
		p.aliases[alias] = canonical
	}
	return p
}

// DefaultProfiles returns the built-in demo users.
func DefaultProfiles() *Profiles {
	return NewProfiles([]Profile{
		{
			UserName:           "Ken",
			ViewerRole:         "driver",
			ViewerAge:          40,
			PreferredGenres:    []string{"comedy", "comedy", "comedy"},
			RecentWatchHistory: []string{"video001", "video002"},
		},
		{
			UserName:           "Yuki",
			ViewerRole:         "driver",
			ViewerAge:          45,
			PreferredGenres:    []string{"action", "anime", "action"},
			RecentWatchHistory: []string{"video010", "video020"},
		},
		{
			UserName:           "Ryo",
			ViewerRole:         "passenger",
			ViewerAge:          16,
			PreferredGenres:    []string{"anime", "anime", "anime"},
			RecentWatchHistory: []string{"video100", "video200"},
		},
	}, map[string]string{
		"けん":  "Ken",
		"ゆき":  "Yuki",
		"りょう": "Ryo",
	})
}

// Resolve looks up a profile by name, following one alias hop.
func (p *Profiles) Resolve(name string) (Profile, bool) {
	if profile, ok := p.byName[name]; ok {
		return profile, true
	}
	if canonical, ok := p.aliases[name]; ok {
		profile, ok := p.byName[canonical]
		return profile, ok
	}
	return Profile{}, false
}

// EnrichVehicleStatus fills a missing user_data field from the profile.
// Reports that already carry user_data are returned unchanged, so applying
// the enrichment twice equals applying it once.
func EnrichVehicleStatus(raw json.RawMessage, profile *Profile) (json.RawMessage, error) {
	var status map[string]json.RawMessage
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, err
	}
	if existing, ok := status["user_data"]; ok && len(existing) > 0 && string(existing) != "null" {
		return raw, nil
	}
	if profile == nil {
		return raw, nil
	}
	userData, err := json.Marshal(profile)
	if err != nil {
		return nil, err
	}
	status["user_data"] = userData
	return json.Marshal(status)
}
