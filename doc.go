// Package mcp implements the server side of the Model Context Protocol (MCP), the protocol
// that lets LLM applications reach external tools and data through a standardized JSON-RPC
// 2.0 interface. This implementation follows the 2024-11-05 revision of the specification
// from https://spec.modelcontextprotocol.io/specification/.
//
// The package provides a Server that dispatches protocol messages to user supplied
// implementations of ToolServer, ResourceServer and LogHandler, and two transports to carry
// those messages: StdIO for newline-delimited JSON over a reader/writer pair, and SSEServer
// for Server-Sent Events with HTTP POST for client messages.
//
// # Sessions and configuration
//
// Each client connection is a Session. Sessions carry a SessionConfig, a flat set of string
// values the client supplied when it connected (query parameters for SSE, constructor
// options for StdIO). The server places the config in the context of every request it
// forwards, so implementations read it with SessionConfigFromContext:
//
//	func (s *MyServer) CallTool(ctx context.Context, params mcp.CallToolParams,
//		_ mcp.ProgressReporter) (mcp.CallToolResult, error) {
//		tz := mcp.SessionConfigFromContext(ctx).Get("timezone", "UTC")
//		...
//	}
//
// # Serving
//
// A server over standard input and output:
//
//	transport := mcp.NewStdIO(os.Stdin, os.Stdout)
//	srv := mcp.NewServer(mcp.Info{Name: "clock", Version: "1.0"}, transport,
//		mcp.WithToolServer(impl),
//		mcp.WithResourceServer(impl),
//	)
//	go srv.Serve()
//	...
//	srv.Shutdown(ctx)
//
// The same server over SSE mounts the transport handlers on any HTTP router:
//
//	sse := mcp.NewSSEServer("http://localhost:8080/message")
//	http.Handle("/sse", sse.HandleSSE())
//	http.Handle("/message", sse.HandleMessage())
//
// Serve blocks until the transport stops producing sessions. For StdIO that happens when
// the input reaches EOF, which makes a stdio server exit with its client.
package mcp
