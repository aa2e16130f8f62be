package mcp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"testing"
	"time"

	mcp "github.com/MegaGrindStone/go-mcp-clock"
)

type mockToolServer struct {
	cancelled chan struct{}
}

type mockResourceServer struct{}

type mockLogHandler struct {
	lock  sync.Mutex
	level mcp.LogLevel

	params chan mcp.LogParams
	done   chan struct{}
}

// testClient speaks raw JSON-RPC with a server over a pair of pipes.
type testClient struct {
	t *testing.T

	writer io.Writer
	lock   sync.Mutex
	nextID int

	responses     chan mcp.JSONRPCMessage
	notifications chan mcp.JSONRPCMessage
}

const testTimeout = 5 * time.Second

var testServerInfo = mcp.Info{Name: "test-server", Version: "1.0"}

func (m *mockToolServer) ListTools(
	context.Context,
	mcp.ListToolsParams,
	mcp.ProgressReporter,
) (mcp.ListToolsResult, error) {
	return mcp.ListToolsResult{
		Tools: []mcp.Tool{{Name: "session_timezone"}, {Name: "fail"}, {Name: "block"}},
	}, nil
}

func (m *mockToolServer) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	_ mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	switch params.Name {
	case "session_timezone":
		tz := mcp.SessionConfigFromContext(ctx).Get("timezone", "none")
		return mcp.CallToolResult{
			Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: tz}},
		}, nil
	case "block":
		<-ctx.Done()
		if m.cancelled != nil {
			close(m.cancelled)
		}
		return mcp.CallToolResult{}, ctx.Err()
	default:
		return mcp.CallToolResult{}, errors.New("tool failed")
	}
}

func (m mockResourceServer) ListResources(
	context.Context,
	mcp.ListResourcesParams,
	mcp.ProgressReporter,
) (mcp.ListResourcesResult, error) {
	return mcp.ListResourcesResult{
		Resources: []mcp.Resource{{URI: "test://resource", Name: "resource"}},
	}, nil
}

func (m mockResourceServer) ReadResource(
	_ context.Context,
	params mcp.ReadResourceParams,
	_ mcp.ProgressReporter,
) (mcp.ReadResourceResult, error) {
	if params.URI != "test://resource" {
		return mcp.ReadResourceResult{}, fmt.Errorf("resource not found: %s", params.URI)
	}
	return mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{{URI: params.URI, Text: "content"}},
	}, nil
}

func (m mockResourceServer) ListResourceTemplates(
	context.Context,
	mcp.ListResourceTemplatesParams,
	mcp.ProgressReporter,
) (mcp.ListResourceTemplatesResult, error) {
	return mcp.ListResourceTemplatesResult{
		Templates: []mcp.ResourceTemplate{{URITemplate: "test://resource/{id}", Name: "template"}},
	}, nil
}

func (m mockResourceServer) CompletesResourceTemplate(
	context.Context,
	mcp.CompletesCompletionParams,
) (mcp.CompletionResult, error) {
	return mcp.CompletionResult{}, nil
}

func newMockLogHandler() *mockLogHandler {
	return &mockLogHandler{
		params: make(chan mcp.LogParams, 10),
		done:   make(chan struct{}),
	}
}

func (m *mockLogHandler) LogStreams() iter.Seq[mcp.LogParams] {
	return func(yield func(mcp.LogParams) bool) {
		for {
			select {
			case <-m.done:
				return
			case params := <-m.params:
				if !yield(params) {
					return
				}
			}
		}
	}
}

func (m *mockLogHandler) SetLogLevel(level mcp.LogLevel) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.level = level
}

func (m *mockLogHandler) Level() mcp.LogLevel {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.level
}

// serveStdIO runs a server over in-memory pipes and returns a client connected to it.
// Everything is torn down when the test ends.
func serveStdIO(
	t *testing.T,
	logHandler *mockLogHandler,
	options []mcp.ServerOption,
	stdioOptions ...mcp.StdIOOption,
) *testClient {
	t.Helper()

	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	transport := mcp.NewStdIO(serverReader, serverWriter, stdioOptions...)
	srv := mcp.NewServer(testServerInfo, transport, options...)

	served := make(chan struct{})
	go func() {
		defer close(served)
		srv.Serve()
	}()

	cli := newTestClient(t, clientReader, clientWriter)

	t.Cleanup(func() {
		// EOF on the server input ends the session.
		clientWriter.Close()
		<-served

		if logHandler != nil {
			close(logHandler.done)
		}

		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("failed to shutdown server: %v", err)
		}

		serverWriter.Close()
		clientReader.Close()
	})

	return cli
}

func newTestClient(t *testing.T, reader io.Reader, writer io.Writer) *testClient {
	c := &testClient{
		t:             t,
		writer:        writer,
		responses:     make(chan mcp.JSONRPCMessage, 100),
		notifications: make(chan mcp.JSONRPCMessage, 100),
	}
	go c.read(reader)
	return c
}

func (c *testClient) read(reader io.Reader) {
	br := bufio.NewReader(reader)
	for {
		line, err := br.ReadBytes('\n')
		if err != nil {
			return
		}
		var msg mcp.JSONRPCMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		switch {
		case msg.Method == "ping":
			// Server keep-alive, answer it so the session stays open. The pipe may already be
			// closed when the test is over.
			_ = c.write(mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: msg.ID, Result: json.RawMessage("{}")})
		case msg.Method != "":
			c.notifications <- msg
		default:
			c.responses <- msg
		}
	}
}

func (c *testClient) send(msg mcp.JSONRPCMessage) {
	if err := c.write(msg); err != nil {
		c.t.Errorf("failed to send message: %v", err)
	}
}

func (c *testClient) write(msg mcp.JSONRPCMessage) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	_, err = c.writer.Write(append(bs, '\n'))
	return err
}

// sendRequest sends a request without waiting for its response and returns its ID.
func (c *testClient) sendRequest(method string, params any) mcp.MustString {
	c.lock.Lock()
	c.nextID++
	id := mcp.MustString(fmt.Sprintf("%d", c.nextID))
	c.lock.Unlock()

	c.send(mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  mustMarshal(c.t, params),
	})
	return id
}

// request sends a request and waits for the response with the same ID.
func (c *testClient) request(method string, params any) mcp.JSONRPCMessage {
	c.t.Helper()

	id := c.sendRequest(method, params)
	return c.waitResponse(id)
}

func (c *testClient) waitResponse(id mcp.MustString) mcp.JSONRPCMessage {
	c.t.Helper()

	timeout := time.After(testTimeout)
	for {
		select {
		case msg := <-c.responses:
			if msg.ID != id {
				c.t.Fatalf("expected response to request %s, got response to %s", id, msg.ID)
			}
			return msg
		case <-timeout:
			c.t.Fatalf("timeout waiting for response to request %s", id)
			return mcp.JSONRPCMessage{}
		}
	}
}

func (c *testClient) notify(method string, params any) {
	c.send(mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		Method:  method,
		Params:  mustMarshal(c.t, params),
	})
}

func (c *testClient) waitNotification(method string) mcp.JSONRPCMessage {
	c.t.Helper()

	timeout := time.After(testTimeout)
	for {
		select {
		case msg := <-c.notifications:
			if msg.Method == method {
				return msg
			}
		case <-timeout:
			c.t.Fatalf("timeout waiting for %s notification", method)
			return mcp.JSONRPCMessage{}
		}
	}
}

// initialize performs the handshake and returns the initialize result.
func (c *testClient) initialize() map[string]any {
	c.t.Helper()

	res := c.request("initialize", map[string]any{
		"protocolVersion": mcp.ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
	})
	if res.Error != nil {
		c.t.Fatalf("failed to initialize: %v", res.Error)
	}
	c.notify("notifications/initialized", nil)

	var result map[string]any
	if err := json.Unmarshal(res.Result, &result); err != nil {
		c.t.Fatalf("failed to unmarshal initialize result: %v", err)
	}
	return result
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	if v == nil {
		return nil
	}
	bs, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal %T: %v", v, err)
	}
	return bs
}

func decodeResult[T any](t *testing.T, msg mcp.JSONRPCMessage) T {
	t.Helper()

	var v T
	if msg.Error != nil {
		t.Fatalf("expected result, got error: %v", msg.Error)
	}
	if err := json.Unmarshal(msg.Result, &v); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	return v
}
