package clock

import (
	"encoding/json"

	"github.com/qri-io/jsonschema"
)

// TimeConfig is the session configuration understood by the clock server. Clients
// supply it when they connect, see mcp.SessionConfig.
type TimeConfig struct {
	// Timezone is an IANA identifier such as "Asia/Singapore". It is only checked when
	// the time is rendered; an unknown identifier falls back to UTC.
	Timezone string `json:"timezone"`
}

// CurrentTimeArgs is the arguments for the current_time tool.
type CurrentTimeArgs struct {
	Timezone string `json:"timezone,omitempty"`
}

const configSchemaJSON = `{
  "type": "object",
  "properties": {
    "timezone": {
      "type": "string",
      "default": "UTC",
      "description": "Your timezone (e.g., Asia/Singapore, US/Eastern)"
    }
  }
}`

const currentTimeSchemaJSON = `{
  "type": "object",
  "properties": {
    "timezone": {
      "type": "string",
      "description": "Timezone to use instead of the session timezone (e.g., Europe/Paris)"
    }
  }
}`

var (
	configSchema      = jsonschema.Must(configSchemaJSON)
	currentTimeSchema = jsonschema.Must(currentTimeSchemaJSON)
)

// ConfigSchema returns the JSON schema of TimeConfig, for registries that render a
// configuration form for the server.
func ConfigSchema() json.RawMessage {
	return json.RawMessage(configSchemaJSON)
}
