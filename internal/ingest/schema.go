package ingest

import (
	"bytes"
	"embed"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"lora-backend/internal/model"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	sensorSchema = mustCompileSchema("schemas/sensor.json")
	statusSchema = mustCompileSchema("schemas/status.json")
)

func mustCompileSchema(name string) *jsonschema.Schema {
	b, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("ingest: schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("ingest: schema %s: %v", name, err))
	}
	return c.MustCompile(name)
}

var errEmptyBody = errors.New("tělo požadavku je prázdné")

// decodeEnvelope ověří tělo proti schématu a teprve pak ho dekóduje do obálky.
func decodeEnvelope(kind string, schema *jsonschema.Schema, body []byte, dst any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return &ValidationError{Kind: kind, Err: errEmptyBody}
	}

	var doc any
	if err := model.UnmarshalJSON(body, &doc); err != nil {
		return &ValidationError{Kind: kind, Err: fmt.Errorf("neplatný JSON: %w", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Kind: kind, Err: err}
	}
	if err := model.UnmarshalJSON(body, dst); err != nil {
		return &ValidationError{Kind: kind, Err: err}
	}
	return nil
}
