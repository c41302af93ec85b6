package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoSources is returned when a configuration document declares no source at all.
var ErrNoSources = errors.New("configuration contains no sources")

// Load reads and validates a source configuration document.
// The document is loaded fresh on every call: runs never share a cached set.
func Load(path string) (*App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var app App
	if err := yaml.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := app.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	for i := range app.Sources {
		applyDefaults(&app.Sources[i])
	}
	return &app, nil
}

// Validate checks the invariants of a loaded definition set.
// Source ids are the primary addressing scheme and must be unique.
func (app *App) Validate() error {
	if len(app.Sources) == 0 {
		return ErrNoSources
	}

	seen := make(map[int]string, len(app.Sources))
	for _, src := range app.Sources {
		if prev, ok := seen[src.SourceID]; ok {
			return fmt.Errorf("duplicate source_id %d (%s and %s)", src.SourceID, prev, src.Name)
		}
		seen[src.SourceID] = src.Name

		switch src.InputFormat {
		case FormatJSON, FormatXML:
		default:
			return fmt.Errorf("source %s: unsupported input_format %q", src.Name, src.InputFormat)
		}
		if src.Request.URL == "" {
			return fmt.Errorf("source %s: request url is required", src.Name)
		}
		if src.Sink.Path == "" {
			return fmt.Errorf("source %s: sink path is required", src.Name)
		}
	}
	return nil
}

// Resolve returns the source definition for the requested id, in strict
// priority order: exact id match, the id-0 catch-all, a source named
// "default" (case-insensitive), then the first declared source.
func (app *App) Resolve(sourceID int) (*Source, error) {
	for i := range app.Sources {
		if app.Sources[i].SourceID == sourceID {
			return &app.Sources[i], nil
		}
	}
	for i := range app.Sources {
		if app.Sources[i].SourceID == 0 {
			return &app.Sources[i], nil
		}
	}
	for i := range app.Sources {
		if strings.EqualFold(app.Sources[i].Name, "default") {
			return &app.Sources[i], nil
		}
	}
	if len(app.Sources) > 0 {
		return &app.Sources[0], nil
	}
	return nil, fmt.Errorf("no source found for id %d: %w", sourceID, ErrNoSources)
}

func applyDefaults(src *Source) {
	if src.Request.Method == "" {
		src.Request.Method = "GET"
	}
	if src.Request.TimeoutSeconds <= 0 {
		src.Request.TimeoutSeconds = 30
	}
	if src.Sink.Type == "" {
		src.Sink.Type = SinkNDJSON
	}
	if src.Sink.Mode == "" {
		src.Sink.Mode = ModeOverwrite
	}
	if src.Paginate != nil {
		if src.Paginate.Start <= 0 {
			src.Paginate.Start = 1
		}
		if src.Paginate.MaxPages <= 0 {
			src.Paginate.MaxPages = 1
		}
	}
	if src.Auth.Type == "" {
		src.Auth.Type = AuthNone
	}
}
