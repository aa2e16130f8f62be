package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// SessionConfig holds the per-session settings a client supplies when it connects, such as
// a preferred timezone. Keys and values are plain strings; server implementations decode
// them into their own typed configuration. A SessionConfig is shared by every request of a
// session and must be treated as read-only.
type SessionConfig map[string]string

// SessionConfigValidator checks the configuration a client supplies on connect, given as
// the JSON object built by SessionConfigJSON. A non-nil error rejects the connection.
type SessionConfigValidator func(ctx context.Context, config json.RawMessage) error

type sessionConfigContextKey struct{}

// sessionConfigParam is the query parameter that carries a base64 encoded JSON object with
// the whole configuration, the form used by hosted MCP registries.
const sessionConfigParam = "config"

var errInvalidSessionConfig = errors.New("invalid session config")

// Get returns the value stored under key, or fallback when the key is absent or empty.
func (c SessionConfig) Get(key, fallback string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return fallback
}

// ParseSessionConfig builds a SessionConfig from the query parameters of a connect request.
//
// Plain parameters map one to one (the first value wins). The "config" parameter, when
// present, must hold a base64 encoded JSON object; its string fields are copied verbatim
// and other scalar fields are formatted with fmt. Plain parameters override fields of the
// encoded object. The names listed in skip are ignored, which lets transports reserve
// their own routing parameters.
func ParseSessionConfig(query url.Values, skip ...string) (SessionConfig, error) {
	fields, err := sessionConfigFields(query, skip)
	if err != nil {
		return nil, err
	}

	cfg := make(SessionConfig, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			cfg[key] = v
		case map[string]any, []any:
			bs, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to marshal field %q: %w", errInvalidSessionConfig, key, err)
			}
			cfg[key] = string(bs)
		default:
			cfg[key] = strings.TrimSpace(fmt.Sprint(v))
		}
	}

	return cfg, nil
}

// SessionConfigJSON returns the same configuration as ParseSessionConfig as a JSON object
// that keeps the types of the encoded "config" fields, so it can be checked against a
// schema before the values are flattened to strings.
func SessionConfigJSON(query url.Values, skip ...string) (json.RawMessage, error) {
	fields, err := sessionConfigFields(query, skip)
	if err != nil {
		return nil, err
	}

	bs, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal config: %w", errInvalidSessionConfig, err)
	}
	return bs, nil
}

// ContextWithSessionConfig returns a copy of ctx that carries cfg.
func ContextWithSessionConfig(ctx context.Context, cfg SessionConfig) context.Context {
	return context.WithValue(ctx, sessionConfigContextKey{}, cfg)
}

// SessionConfigFromContext returns the SessionConfig stored in ctx by the server. It
// returns an empty config, never nil, when ctx carries none.
func SessionConfigFromContext(ctx context.Context) SessionConfig {
	cfg, ok := ctx.Value(sessionConfigContextKey{}).(SessionConfig)
	if !ok || cfg == nil {
		return SessionConfig{}
	}
	return cfg
}

func sessionConfigFields(query url.Values, skip []string) (map[string]any, error) {
	fields := make(map[string]any)

	if encoded := query.Get(sessionConfigParam); encoded != "" {
		decoded, err := decodeSessionConfig(encoded)
		if err != nil {
			return nil, err
		}
		for key, value := range decoded {
			// Null fields count as absent.
			if value != nil {
				fields[key] = value
			}
		}
	}

	for key, values := range query {
		if key == sessionConfigParam || len(values) == 0 || slices.Contains(skip, key) {
			continue
		}
		fields[key] = values[0]
	}

	return fields, nil
}

func decodeSessionConfig(encoded string) (map[string]any, error) {
	var raw []byte
	var err error
	// Registries are inconsistent about padding and alphabet.
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		if raw, err = enc.DecodeString(encoded); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64: %w", errInvalidSessionConfig, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal JSON: %w", errInvalidSessionConfig, err)
	}
	return fields, nil
}
