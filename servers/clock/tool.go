package clock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcp "github.com/MegaGrindStone/go-mcp-clock"
	"github.com/qri-io/jsonschema"
)

const currentTimeToolName = "current_time"

var toolList = []mcp.Tool{
	{
		Name:        currentTimeToolName,
		Description: "What time is it now?",
		InputSchema: json.RawMessage(currentTimeSchemaJSON),
	},
}

// ListTools implements mcp.ToolServer interface.
func (s *Server) ListTools(context.Context, mcp.ListToolsParams, mcp.ProgressReporter) (mcp.ListToolsResult, error) {
	s.log(mcp.LogLevelDebug, "ListTools", nil)

	return mcp.ListToolsResult{
		Tools: toolList,
	}, nil
}

// CallTool implements mcp.ToolServer interface.
func (s *Server) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	s.log(mcp.LogLevelDebug, "CallTool", map[string]string{"tool": params.Name})

	switch params.Name {
	case currentTimeToolName:
		return s.callCurrentTime(ctx, params)
	default:
		return mcp.CallToolResult{}, fmt.Errorf("tool not found: %s", params.Name)
	}
}

func (s *Server) callCurrentTime(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args CurrentTimeArgs
	if err := decodeArguments(ctx, currentTimeSchema, params.Arguments, &args); err != nil {
		// The tool always answers with a time; bad arguments are dropped.
		args = CurrentTimeArgs{}
		s.logger.Warn("ignoring invalid current_time arguments", slog.String("err", err.Error()))
		s.log(mcp.LogLevelWarning, "ignoring invalid current_time arguments", map[string]string{"err": err.Error()})
	}

	timezone := args.Timezone
	if timezone == "" {
		timezone = s.sessionConfig(ctx).Timezone
	}

	text, ok := s.clock.currentTime(timezone)
	if !ok {
		s.logger.Warn("unknown timezone, falling back to UTC", slog.String("timezone", timezone))
		s.log(mcp.LogLevelWarning, "unknown timezone, falling back to UTC", map[string]string{"timezone": timezone})
	}

	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: text,
			},
		},
		IsError: false,
	}, nil
}

// sessionConfig decodes the TimeConfig of the session that issued the request in ctx.
func (s *Server) sessionConfig(ctx context.Context) TimeConfig {
	cfg := mcp.SessionConfigFromContext(ctx)
	return TimeConfig{Timezone: cfg.Get("timezone", s.defaultTimezone)}
}

// ValidateSessionConfig checks a connect-time session config against the TimeConfig
// schema. It serves as an mcp.SessionConfigValidator.
func (s *Server) ValidateSessionConfig(ctx context.Context, config json.RawMessage) error {
	if err := validate(ctx, configSchema, config); err != nil {
		s.log(mcp.LogLevelWarning, "session config rejected", map[string]string{"err": err.Error()})
		return err
	}
	return nil
}

// decodeArguments validates raw against schema and unmarshals it into v. Absent
// arguments are treated as an empty object.
func decodeArguments(ctx context.Context, schema *jsonschema.Schema, raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}

	if err := validate(ctx, schema, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return nil
}

func validate(ctx context.Context, schema *jsonschema.Schema, data []byte) error {
	keyErrs, err := schema.ValidateBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to validate params: %w", err)
	}
	if len(keyErrs) > 0 {
		var errStr []string
		for _, kErr := range keyErrs {
			errStr = append(errStr, kErr.Message)
		}
		return fmt.Errorf("params validation failed: %s", strings.Join(errStr, ", "))
	}
	return nil
}
