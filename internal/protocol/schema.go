package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// obsSchema covers the OBS fields the mind reads. Unknown fields are allowed so newer
// servers stay compatible.
const obsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "tick", "agent_id", "self"],
  "properties": {
    "type": {"const": "OBS"},
    "protocol_version": {"type": "string"},
    "tick": {"type": "integer", "minimum": 0},
    "agent_id": {"type": "string"},
    "world": {
      "type": "object",
      "properties": {
        "time_of_day": {"type": "number", "minimum": 0, "maximum": 1},
        "weather": {"type": "string"},
        "season_day": {"type": "integer"},
        "biome": {"type": "string"}
      }
    },
    "self": {
      "type": "object",
      "required": ["pos", "hp", "hunger"],
      "properties": {
        "pos": {"type": "array", "items": {"type": "integer"}, "minItems": 3, "maxItems": 3},
        "yaw": {"type": "integer"},
        "hp": {"type": "integer", "minimum": 0},
        "hunger": {"type": "integer", "minimum": 0},
        "stamina": {"type": "number", "minimum": 0, "maximum": 1},
        "status": {"type": ["array", "null"], "items": {"type": "string"}}
      }
    },
    "inventory": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["item", "count"],
        "properties": {"item": {"type": "string"}, "count": {"type": "integer", "minimum": 0}}
      }
    },
    "voxels": {
      "type": "object",
      "properties": {
        "center": {"type": "array", "items": {"type": "integer"}, "minItems": 3, "maxItems": 3},
        "radius": {"type": "integer", "minimum": 0},
        "encoding": {"enum": ["RLE", "DELTA", ""]}
      }
    },
    "entities": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id", "type", "pos"],
        "properties": {
          "id": {"type": "string"},
          "type": {"type": "string"},
          "pos": {"type": "array", "items": {"type": "integer"}, "minItems": 3, "maxItems": 3}
        }
      }
    },
    "events": {"type": ["array", "null"], "items": {"type": "object"}},
    "tasks": {"type": ["array", "null"], "items": {"type": "object"}}
  }
}`

var (
	obsSchemaOnce     sync.Once
	obsSchemaCompiled *jsonschema.Schema
	obsSchemaErr      error
)

func compiledObsSchema() (*jsonschema.Schema, error) {
	obsSchemaOnce.Do(func() {
		obsSchemaCompiled, obsSchemaErr = jsonschema.CompileString("obs.schema.json", obsSchema)
	})
	return obsSchemaCompiled, obsSchemaErr
}

// ValidateObs checks a raw OBS message against the embedded schema.
func ValidateObs(raw []byte) error {
	s, err := compiledObsSchema()
	if err != nil {
		return fmt.Errorf("compile obs schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("parse obs: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("obs schema: %w", err)
	}
	return nil
}
