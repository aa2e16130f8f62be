package mcp_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	mcp "github.com/MegaGrindStone/go-mcp-clock"
	"github.com/google/go-cmp/cmp"
)

func TestServerInitialize(t *testing.T) {
	type testCase struct {
		name             string
		options          []mcp.ServerOption
		wantCapabilities map[string]any
	}

	testCases := []testCase{
		{
			name:             "no capabilities",
			options:          nil,
			wantCapabilities: map[string]any{},
		},
		{
			name: "full capabilities",
			options: []mcp.ServerOption{
				mcp.WithToolServer(&mockToolServer{}),
				mcp.WithResourceServer(mockResourceServer{}),
				mcp.WithInstructions("use the tools"),
			},
			wantCapabilities: map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cli := serveStdIO(t, nil, tc.options)

			result := cli.initialize()

			if result["protocolVersion"] != mcp.ProtocolVersion {
				t.Errorf("expected protocol version %s, got %v", mcp.ProtocolVersion, result["protocolVersion"])
			}
			wantInfo := map[string]any{"name": testServerInfo.Name, "version": testServerInfo.Version}
			if diff := cmp.Diff(wantInfo, result["serverInfo"]); diff != "" {
				t.Errorf("serverInfo mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantCapabilities, result["capabilities"]); diff != "" {
				t.Errorf("capabilities mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestServerInitializeVersionMismatch(t *testing.T) {
	cli := serveStdIO(t, nil, nil)

	res := cli.request("initialize", map[string]any{
		"protocolVersion": "1999-01-01",
		"clientInfo":      map[string]any{"name": "old-client", "version": "0.1"},
	})

	if res.Error == nil {
		t.Fatalf("expected error, got result %s", res.Result)
	}
	if res.Error.Code != -32602 {
		t.Errorf("expected error code -32602, got %d", res.Error.Code)
	}
}

func TestServerOnClientConnected(t *testing.T) {
	connected := make(chan mcp.Info, 1)
	cli := serveStdIO(t, nil, []mcp.ServerOption{
		mcp.WithServerOnClientConnected(func(_ string, info mcp.Info) {
			connected <- info
		}),
	})

	cli.initialize()

	select {
	case info := <-connected:
		if info.Name != "test-client" {
			t.Errorf("expected client name test-client, got %s", info.Name)
		}
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for client connected callback")
	}
}

func TestServerPing(t *testing.T) {
	cli := serveStdIO(t, nil, nil)

	// Ping is allowed before the handshake.
	res := cli.request("ping", nil)
	if res.Error != nil {
		t.Fatalf("expected pong, got error %v", res.Error)
	}
	if string(res.Result) != "{}" {
		t.Errorf("expected empty result, got %s", res.Result)
	}
}

func TestServerIgnoresRequestsBeforeInitialized(t *testing.T) {
	cli := serveStdIO(t, nil, []mcp.ServerOption{mcp.WithToolServer(&mockToolServer{})})

	early := cli.sendRequest("tools/list", nil)
	cli.initialize()

	// The response to the early request would arrive first, waitResponse fails on it.
	res := cli.request("tools/list", nil)
	if res.ID == early {
		t.Fatalf("expected request before initialization to be ignored")
	}

	result := decodeResult[mcp.ListToolsResult](t, res)
	if len(result.Tools) != 3 {
		t.Errorf("expected 3 tools, got %d", len(result.Tools))
	}
}

func TestServerErrors(t *testing.T) {
	type testCase struct {
		name     string
		method   string
		params   any
		wantCode int
	}

	testCases := []testCase{
		{
			name:     "unknown method",
			method:   "prompts/list",
			wantCode: -32601,
		},
		{
			name:     "read unknown resource",
			method:   "resources/read",
			params:   map[string]any{"uri": "test://missing"},
			wantCode: -32602,
		},
		{
			name:     "malformed params",
			method:   "resources/read",
			params:   []string{"not", "an", "object"},
			wantCode: -32602,
		},
		{
			name:   "completion of a prompt",
			method: "completion/complete",
			params: map[string]any{
				"ref":      map[string]any{"type": "ref/prompt", "name": "greeting"},
				"argument": map[string]any{"name": "name", "value": "a"},
			},
			wantCode: -32602,
		},
		{
			name:     "set log level without log handler",
			method:   "logging/setLevel",
			params:   map[string]any{"level": "debug"},
			wantCode: -32601,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cli := serveStdIO(t, nil, []mcp.ServerOption{mcp.WithResourceServer(mockResourceServer{})})
			cli.initialize()

			res := cli.request(tc.method, tc.params)
			if res.Error == nil {
				t.Fatalf("expected error, got result %s", res.Result)
			}
			if res.Error.Code != tc.wantCode {
				t.Errorf("expected error code %d, got %d (%s)", tc.wantCode, res.Error.Code, res.Error.Message)
			}
		})
	}
}

func TestServerInvalidJSONRPCVersion(t *testing.T) {
	cli := serveStdIO(t, nil, nil)

	cli.send(mcp.JSONRPCMessage{JSONRPC: "1.0", ID: "legacy", Method: "ping"})

	res := cli.waitResponse("legacy")
	if res.Error == nil || res.Error.Code != -32600 {
		t.Errorf("expected invalid request error, got %+v", res)
	}
}

func TestServerResources(t *testing.T) {
	cli := serveStdIO(t, nil, []mcp.ServerOption{mcp.WithResourceServer(mockResourceServer{})})
	cli.initialize()

	list := decodeResult[mcp.ListResourcesResult](t, cli.request("resources/list", nil))
	if len(list.Resources) != 1 || list.Resources[0].URI != "test://resource" {
		t.Errorf("unexpected resources: %+v", list.Resources)
	}

	read := decodeResult[mcp.ReadResourceResult](t, cli.request("resources/read", map[string]any{
		"uri": "test://resource",
	}))
	if len(read.Contents) != 1 || read.Contents[0].Text != "content" {
		t.Errorf("unexpected contents: %+v", read.Contents)
	}

	templates := decodeResult[mcp.ListResourceTemplatesResult](t, cli.request("resources/templates/list", nil))
	if len(templates.Templates) != 1 {
		t.Errorf("expected 1 template, got %d", len(templates.Templates))
	}

	res := cli.request("completion/complete", map[string]any{
		"ref":      map[string]any{"type": "ref/resource", "uri": "test://resource/{id}"},
		"argument": map[string]any{"name": "id", "value": "1"},
	})
	// A nil list from the implementation is still sent as an array.
	if !strings.Contains(string(res.Result), `"values":[]`) {
		t.Errorf("expected empty values array, got %s", res.Result)
	}
}

func TestServerToolError(t *testing.T) {
	cli := serveStdIO(t, nil, []mcp.ServerOption{mcp.WithToolServer(&mockToolServer{})})
	cli.initialize()

	result := decodeResult[mcp.CallToolResult](t, cli.request("tools/call", map[string]any{"name": "fail"}))

	if !result.IsError {
		t.Errorf("expected isError result")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "tool failed" {
		t.Errorf("unexpected content: %+v", result.Content)
	}
}

func TestServerSessionConfigReachesRequests(t *testing.T) {
	type testCase struct {
		name    string
		options []mcp.StdIOOption
		want    string
	}

	testCases := []testCase{
		{
			name:    "configured",
			options: []mcp.StdIOOption{mcp.WithStdIOConfig(mcp.SessionConfig{"timezone": "Asia/Tokyo"})},
			want:    "Asia/Tokyo",
		},
		{
			name: "not configured",
			want: "none",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cli := serveStdIO(t, nil, []mcp.ServerOption{mcp.WithToolServer(&mockToolServer{})}, tc.options...)
			cli.initialize()

			result := decodeResult[mcp.CallToolResult](t, cli.request("tools/call", map[string]any{
				"name": "session_timezone",
			}))

			if len(result.Content) != 1 || result.Content[0].Text != tc.want {
				t.Errorf("expected %q, got %+v", tc.want, result.Content)
			}
		})
	}
}

func TestServerCancelRequest(t *testing.T) {
	tools := &mockToolServer{cancelled: make(chan struct{})}
	cli := serveStdIO(t, nil, []mcp.ServerOption{mcp.WithToolServer(tools)})
	cli.initialize()

	id := cli.sendRequest("tools/call", map[string]any{"name": "block"})
	cli.notify("notifications/cancelled", map[string]any{"requestId": id, "reason": "user aborted"})

	select {
	case <-tools.cancelled:
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for the tool context to be cancelled")
	}

	// The cancelled request gets no response, the next one is answered normally.
	res := cli.request("tools/list", nil)
	if res.Error != nil {
		t.Errorf("expected result, got error %v", res.Error)
	}
}

func TestServerLogNotifications(t *testing.T) {
	logs := newMockLogHandler()
	cli := serveStdIO(t, logs, []mcp.ServerOption{mcp.WithLogHandler(logs)})

	result := cli.initialize()
	capabilities, _ := result["capabilities"].(map[string]any)
	if _, ok := capabilities["logging"]; !ok {
		t.Errorf("expected logging capability, got %v", capabilities)
	}

	res := cli.request("logging/setLevel", map[string]any{"level": "warning"})
	if res.Error != nil {
		t.Fatalf("failed to set log level: %v", res.Error)
	}
	if logs.Level() != mcp.LogLevelWarning {
		t.Errorf("expected level %s, got %s", mcp.LogLevelWarning, logs.Level())
	}

	res = cli.request("logging/setLevel", map[string]any{"level": "verbose"})
	if res.Error == nil || res.Error.Code != -32602 {
		t.Errorf("expected invalid params error for unknown level, got %+v", res)
	}

	logs.params <- mcp.LogParams{
		Level:  mcp.LogLevelWarning,
		Logger: "test",
		Data:   json.RawMessage(`{"message":"hello"}`),
	}

	msg := cli.waitNotification("notifications/message")
	var params mcp.LogParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatalf("failed to unmarshal log params: %v", err)
	}
	want := mcp.LogParams{
		Level:  mcp.LogLevelWarning,
		Logger: "test",
		Data:   json.RawMessage(`{"message":"hello"}`),
	}
	if diff := cmp.Diff(want, params); diff != "" {
		t.Errorf("log params mismatch (-want +got):\n%s", diff)
	}
}
