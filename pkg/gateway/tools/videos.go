package tools

import (
	"context"
	"fmt"
	"strings"
)

// SearchVideos asks the client's embedded browser to run a video search on a
// streaming service.
type SearchVideos struct{}

func (SearchVideos) Name() string { return "search_videos" }

func (SearchVideos) Description() string {
	return "Function to search videos on a specified service via a web page."
}

func (SearchVideos) Parameters() map[string]any {
	return map[string]any{
		"service": map[string]any{
			"type":        "string",
			"description": `Name of video website for video search. Currently, only "youtube" is supported.`,
		},
		"input": map[string]any{
			"type":        "string",
			"description": "Search string for searching videos.",
		},
	}
}

func (SearchVideos) Execute(_ context.Context, args map[string]any) (any, error) {
	service, ok := stringArg(args, "service")
	if !ok {
		return nil, fmt.Errorf("search_videos: service is required")
	}
	input, ok := stringArg(args, "input")
	if !ok {
		return nil, fmt.Errorf("search_videos: input is required")
	}
	return map[string]any{
		"type":          "tools.search_videos",
		"return_direct": true,
		"intent": map[string]any{
			"webbrowser": map[string]any{
				"search_videos": map[string]any{
					"service": strings.ToLower(service),
					"input":   input,
				},
			},
		},
	}, nil
}
