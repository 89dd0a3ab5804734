// internal/schema/validator.go
// Package schema provides JSON schema validation for request payloads.
// Every JSON body and multipart form the service accepts is checked against
// its named schema before it reaches a service.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// Payload names, one per embedded schema file.
const (
	AuthRegister  = "auth.register"
	AuthLogin     = "auth.login"
	CommentCreate = "comment.create"
	ProfileUpdate = "profile.update"
	AccountUpdate = "account.update"
	WorkCreate    = "work.create"
	WorkUpdate    = "work.update"
	EpisodeCreate = "episode.create"
	EpisodeUpdate = "episode.update"
)

// Validator validates payloads against JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Payload name to compiled schema
}

// NewValidator compiles every embedded schema.
// Returns:
//   - *Validator: Initialized validator instance
//   - error: Any error that occurred while compiling a schema
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}

	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	for _, entry := range entries {
		raw, err := schemaFiles.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", entry.Name(), err)
		}
		if err := v.loadSchema(strings.TrimSuffix(entry.Name(), ".json"), string(raw)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// loadSchema compiles a single schema under name.
func (v *Validator) loadSchema(name, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", name, err)
	}
	v.schemas[name] = schema
	return nil
}

// Validate checks a decoded payload against the named schema.
// Parameters:
//   - name: The payload name (e.g., "work.create")
//   - payload: The payload data to validate
//
// Returns:
//   - error: nil if valid; a CAT_VALIDATION *errordefs.Error listing each violation otherwise
func (v *Validator) Validate(name string, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return v.validateBytes(name, raw)
}

// Decode validates a raw JSON body against the named schema and unmarshals it into dst.
func (v *Validator) Decode(name string, body []byte, dst interface{}) error {
	if !json.Valid(body) {
		return errordefs.New(errordefs.CAT_BAD_REQUEST, "invalid JSON", "")
	}
	if err := v.validateBytes(name, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errordefs.New(errordefs.CAT_BAD_REQUEST, "invalid JSON", "")
	}
	return nil
}

func (v *Validator) validateBytes(name string, raw []byte) error {
	schema, exists := v.schemas[name]
	if !exists {
		return fmt.Errorf("schema not found: %s", name)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errordefs.New(errordefs.CAT_BAD_REQUEST, "invalid JSON", "")
	}
	if !result.Valid() {
		var violations []string
		for _, desc := range result.Errors() {
			violations = append(violations, describe(desc))
		}
		return errordefs.NewWithDetails(errordefs.CAT_VALIDATION,
			"validation failed: "+strings.Join(violations, "; "), "", violations)
	}
	return nil
}

// describe renders a violation with the offending field name.
func describe(desc gojsonschema.ResultError) string {
	field := desc.Field()
	if field == "(root)" {
		if p, ok := desc.Details()["property"].(string); ok {
			field = p
		}
	}
	switch desc.Type() {
	case "pattern":
		return field + ": invalid format"
	case "required":
		return field + ": is required"
	}
	return field + ": " + desc.Description()
}
