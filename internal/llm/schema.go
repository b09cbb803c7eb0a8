package llm

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names.
const (
	schemaMarketEvents   = "market_events.json"
	schemaStrategy       = "strategy.json"
	schemaResearchEffect = "research_effect.json"

	schemaBaseURL = "https://mini-economy.local/schemas/"
)

// ErrNoJSON is returned when a response carries no JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemaSet  map[string]*jsonschema.Schema
	schemaErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		names := []string{schemaMarketEvents, schemaStrategy, schemaResearchEffect}
		for _, name := range names {
			raw, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemaErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(raw)); err != nil {
				schemaErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
		}
		set := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			s, err := c.Compile(schemaBaseURL + name)
			if err != nil {
				schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			set[name] = s
		}
		schemaSet = set
	})
	return schemaSet, schemaErr
}

// extractJSON returns the outermost JSON object in a response, ignoring surrounding prose
// and markdown fences.
func extractJSON(response string) (string, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return "", ErrNoJSON
	}
	return response[start : end+1], nil
}

// decode validates a response against a schema and unmarshals it into out.
func decode(schema, response string, out any) error {
	set, err := loadSchemas()
	if err != nil {
		return err
	}
	raw, err := extractJSON(response)
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("parse %s: %w", schema, err)
	}
	if err := set[schema].Validate(doc); err != nil {
		return fmt.Errorf("validate %s: %w", schema, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", schema, err)
	}
	return nil
}
