package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server implements a Model Context Protocol (MCP) server that enables communication
// between LLM applications and external data sources and tools. It manages the
// connection lifecycle, handles protocol messages, and provides access to MCP
// server capabilities.
type Server struct {
	info Info

	instructions string
	capabilities ServerCapabilities
	transport    ServerTransport

	resourceServer ResourceServer
	toolServer     ToolServer
	logHandler     LogHandler

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	logger *slog.Logger

	onClientConnected    func(string, Info)
	onClientDisconnected func(string)

	sessionsWaitGroup *sync.WaitGroup

	done      chan struct{}
	logClosed chan struct{}
}

type serverSession struct {
	session Session
	logger  *slog.Logger

	serverCap    ServerCapabilities
	serverInfo   Info
	instructions string

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	resourceServer ResourceServer
	toolServer     ToolServer
	logHandler     LogHandler

	inflight          *inflightRequests
	onClientConnected func(string, Info)
}

// inflightRequests tracks the cancellation of requests that are forwarded to the server
// implementations, so notifications/cancelled can reach them.
type inflightRequests struct {
	lock    sync.Mutex
	cancels map[MustString]context.CancelFunc
}

var (
	defaultServerPingInterval         = 30 * time.Second
	defaultServerPingTimeout          = 30 * time.Second
	defaultServerPingTimeoutThreshold = 3
	defaultServerSendTimeout          = 30 * time.Second

	errInvalidJSON = errors.New("invalid json")
)

// NewServer creates a new Model Context Protocol (MCP) server with the specified configuration.
func NewServer(info Info, transport ServerTransport, options ...ServerOption) Server {
	s := Server{
		info:              info,
		transport:         transport,
		logger:            slog.Default(),
		sessionsWaitGroup: &sync.WaitGroup{},
		done:              make(chan struct{}),
		logClosed:         make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.pingInterval == 0 {
		s.pingInterval = defaultServerPingInterval
	}
	if s.pingTimeout == 0 {
		s.pingTimeout = defaultServerPingTimeout
	}
	if s.pingTimeoutThreshold == 0 {
		s.pingTimeoutThreshold = defaultServerPingTimeoutThreshold
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}

	// Prepares the server's capabilities based on the provided server implementations.

	s.capabilities = ServerCapabilities{}

	if s.resourceServer != nil {
		s.capabilities.Resources = &ResourcesCapability{}
	}
	if s.toolServer != nil {
		s.capabilities.Tools = &ToolsCapability{}
	}
	if s.logHandler != nil {
		s.capabilities.Logging = &LoggingCapability{}
	}

	return s
}

// WithResourceServer returns a ServerOption that configures the resource server implementation.
func WithResourceServer(srv ResourceServer) ServerOption {
	return func(s *Server) {
		s.resourceServer = srv
	}
}

// WithToolServer returns a ServerOption that configures the tool server implementation.
func WithToolServer(srv ToolServer) ServerOption {
	return func(s *Server) {
		s.toolServer = srv
	}
}

// WithLogHandler returns a ServerOption that configures the log handler implementation.
func WithLogHandler(handler LogHandler) ServerOption {
	return func(s *Server) {
		s.logHandler = handler
	}
}

// WithInstructions returns a ServerOption that configures the server instructions.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerPingInterval returns a ServerOption that configures the server's ping interval.
func WithServerPingInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = interval
	}
}

// WithServerPingTimeout returns a ServerOption that configures the server's ping timeout.
func WithServerPingTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.pingTimeout = timeout
	}
}

// WithServerPingTimeoutThreshold sets the ping timeout threshold for the server.
// If the number of consecutive ping timeouts exceeds the threshold, the server will close the session.
func WithServerPingTimeoutThreshold(threshold int) ServerOption {
	return func(s *Server) {
		s.pingTimeoutThreshold = threshold
	}
}

// WithServerSendTimeout returns a ServerOption that configures the server's send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client completes the initialize
// handshake. The callback's parameters are the session ID and the Info the client sent.
func WithServerOnClientConnected(onClientConnected func(string, Info)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback for when a client disconnects.
// The callback's parameter is the ID of the client.
func WithServerOnClientDisconnected(onClientDisconnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "server"),
		)
	}
}

// Serve starts the MCP server and manages its lifecycle. It handles client connections,
// protocol messages, and server capabilities according to the MCP specification.
//
// Serve blocks until the transport stops yielding sessions, either because Shutdown was
// called or because the transport ran out of clients (a StdIO input reaching EOF).
func (s Server) Serve() {
	broadcasts := make(chan JSONRPCMessage, 10)

	if s.logHandler != nil {
		go s.listenLogs(broadcasts)
	} else {
		close(s.logClosed)
	}

	s.start(broadcasts)
}

// Shutdown gracefully shuts down the server by terminating all active clients and cleaning up resources.
// It returns an error if the shutdown process fails or if the context is cancelled before the shutdown completes.
func (s Server) Shutdown(ctx context.Context) error {
	// Signal the server to shutdown and terminates all sessions
	close(s.done)

	// Wait for all sessions to finish
	s.sessionsWaitGroup.Wait()

	// Close the transport so the Sessions loop in the start function breaks.
	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close LogHandler: %w", ctx.Err())
	case <-s.logClosed:
	}

	return nil
}

func (s Server) start(broadcasts <-chan JSONRPCMessage) {
	// These channels are used to send broadcasts to all sessions in the goroutine below.
	sessions := make(chan serverSession, 5)
	removedSessions := make(chan string, 5)

	go s.broadcast(broadcasts, sessions, removedSessions)

	// This loop would break when the transport is closed.
	for sess := range s.transport.Sessions() {
		ss := serverSession{
			session:              sess,
			logger:               s.logger.With(slog.String("sessionID", sess.ID())),
			serverCap:            s.capabilities,
			serverInfo:           s.info,
			instructions:         s.instructions,
			pingInterval:         s.pingInterval,
			pingTimeout:          s.pingTimeout,
			pingTimeoutThreshold: s.pingTimeoutThreshold,
			sendTimeout:          s.sendTimeout,
			resourceServer:       s.resourceServer,
			toolServer:           s.toolServer,
			logHandler:           s.logHandler,
			inflight:             &inflightRequests{cancels: make(map[MustString]context.CancelFunc)},
			onClientConnected:    s.onClientConnected,
		}
		// Updates the broadcaster about new sessions. After shutdown the broadcaster is gone,
		// the session still runs below so it gets stopped properly.
		select {
		case <-s.done:
		case sessions <- ss:
		}

		s.sessionsWaitGroup.Add(1)

		// This session would close itself when the client goes away or
		// when consecutive pings fail beyond threshold.
		go func() {
			defer s.sessionsWaitGroup.Done()

			ss.start(s.done)

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.session.ID())
			}

			// Notify the broadcaster about removed sessions
			select {
			case <-s.done:
			case removedSessions <- ss.session.ID():
			}
		}()
	}
}

func (s Server) broadcast(messages <-chan JSONRPCMessage, sessions <-chan serverSession, removedSession <-chan string) {
	// Store all active sessions in a map for easy lookup
	sessMap := make(map[string]serverSession)

	for {
		select {
		case <-s.done:
			return
		case sess := <-sessions:
			sessMap[sess.session.ID()] = sess
		case sessID := <-removedSession:
			delete(sessMap, sessID)
		case msg := <-messages:
			ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
			// Broadcast the message to all active sessions
			for _, sess := range sessMap {
				if err := sess.session.Send(ctx, msg); err != nil {
					sess.logger.Error("failed to send message",
						slog.String("method", msg.Method),
						slog.String("err", err.Error()))
				}
			}
			cancel()
		}
	}
}

func (s Server) listenLogs(messages chan<- JSONRPCMessage) {
	defer close(s.logClosed)

	for params := range s.logHandler.LogStreams() {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			s.logger.Error("failed to marshal log params", slog.String("err", err.Error()))
			continue
		}
		msg := JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			Method:  methodNotificationsMessage,
			Params:  paramsBs,
		}
		select {
		case <-s.done:
			return
		case messages <- msg:
		}
	}
}

func (s serverSession) start(done <-chan struct{}) {
	// This channel is used to feed the ping goroutine a message ID we received from the client.
	pingMessageIDs := make(chan MustString, 10)
	// Closed when the client stops sending messages, so the ping goroutine stops the session
	// without waiting for the ping threshold.
	finished := make(chan struct{})
	pingStopped := make(chan struct{})
	// Spawn a goroutine to handle the session's lifetime with ping.
	go func() {
		defer close(pingStopped)
		s.ping(pingMessageIDs, done, finished)
	}()
	// This base context is to make sure all the operations in the loop below is cancelled
	// when the loop is broken. Every request context carries the session configuration.
	baseCtx, baseCancel := context.WithCancel(ContextWithSessionConfig(context.Background(), s.session.Config()))
	// This flag indicates whether we already established the session with the client.
	// Before this flag is set to true, other than ping and initialization message,
	// we should ignore any other messages from the client.
	initialized := false

	// This loops would break when the session is closed
	for msg := range s.session.Messages() {
		// Validate JSON-RPC version before processing any message
		if msg.JSONRPC != JSONRPCVersion {
			s.logger.Info("failed to handle message",
				slog.String("method", msg.Method),
				slog.String("err", errInvalidJSON.Error()),
			)
			if msg.ID != "" && msg.Method != "" {
				go s.sendError(msg.ID, JSONRPCError{
					Code:    jsonRPCInvalidRequestCode,
					Message: fmt.Sprintf("unsupported jsonrpc version: %q", msg.JSONRPC),
				})
			}
			continue
		}
		switch msg.Method {
		case methodPing:
			go func(msgID MustString) {
				// Send pong back to the client
				pongCtx, pongCancel := context.WithTimeout(context.Background(), s.pingTimeout)
				if err := s.session.Send(pongCtx, JSONRPCMessage{
					JSONRPC: JSONRPCVersion,
					ID:      msgID,
					Result:  json.RawMessage("{}"),
				}); err != nil {
					s.logger.Error("failed to send pong", slog.String("err", err.Error()))
				}
				pongCancel()
			}(msg.ID)
		case methodInitialize:
			// Handle initialization request.
			go s.handleInitializeRequest(msg)
		case MethodResourcesList, MethodResourcesRead, MethodResourcesTemplatesList,
			MethodToolsList, MethodToolsCall, MethodCompletionComplete, MethodLoggingSetLevel:
			if !initialized {
				continue
			}
			// All the method above required us to call the server implementation, and all the call is cancellable,
			// so we need to register it, so we can cancel it if the client requests it.
			serverCtx, serverCancel := context.WithCancel(baseCtx)
			s.inflight.add(msg.ID, serverCancel)
			go func() {
				defer s.inflight.remove(msg.ID)
				s.handleServerImplementationMessage(serverCtx, msg)
			}()
		case methodNotificationsInitialized:
			// Successfully established the session with the client
			initialized = true
		case methodNotificationsCancelled:
			if !initialized {
				continue
			}
			var params notificationsCancelledParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				s.logger.Warn("failed to unmarshal cancellation", slog.String("err", err.Error()))
				continue
			}
			s.inflight.cancel(params.RequestID)
		case "":
			// This is the response from the client, the only requests we send are pings.
			if msg.Error != nil {
				s.logger.Warn("received error response from client", slog.String("err", msg.Error.Error()))
			}
			// Feed the ping gourotine with the message ID we received from the client.
			select {
			case <-done:
			case pingMessageIDs <- msg.ID:
			default:
			}
		default:
			// Notifications we don't know about are ignored, requests get an error.
			if msg.ID == "" {
				continue
			}
			go s.sendError(msg.ID, JSONRPCError{
				Code:    jsonRPCMethodNotFoundCode,
				Message: fmt.Sprintf("method not found: %s", msg.Method),
			})
		}
	}
	// Cancel all the contexts that we created
	baseCancel()
	close(finished)
	<-pingStopped
}

func (s serverSession) handleInitializeRequest(msg JSONRPCMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	// Verify client's initialization request
	res, clientInfo, err := s.initializationHandshake(msg)
	if err != nil {
		s.logger.Info("invalid initialization request", slog.String("err", err.Error()))
		// Initialization failed, send the error to the client to notify them to close the session.
		jsonErr := JSONRPCError{}
		errors.As(err, &jsonErr)
		if err := s.session.Send(ctx, JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			ID:      msg.ID,
			Error:   &jsonErr,
		}); err != nil {
			s.logger.Error("failed to send initialization error", slog.String("err", err.Error()))
		}
		return
	}
	resBs, _ := json.Marshal(res)
	if err := s.session.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
		Result:  resBs,
	}); err != nil {
		s.logger.Error("failed to send initialization result", slog.String("err", err.Error()))
		return
	}

	s.logger.Info("client initialized",
		slog.String("client", clientInfo.Name),
		slog.String("clientVersion", clientInfo.Version))

	if s.onClientConnected != nil {
		s.onClientConnected(s.session.ID(), clientInfo)
	}
}

func (s serverSession) ping(messageIDs <-chan MustString, done <-chan struct{}, finished <-chan struct{}) {
	defer s.session.Stop()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	failedPings := 0
	var msgID MustString

	for {
		if failedPings > s.pingTimeoutThreshold {
			s.logger.Warn("too many pings failed, closing session")
			return
		}

		select {
		case <-done:
			return
		case <-finished:
			return
		case id := <-messageIDs:
			// Received id from client response, check whether it's the same as the one we sent.
			if id != msgID {
				continue
			}
			// If it's the same, we received a ping response, reset the failed ping counter.
			s.logger.Debug("received ping response, resetting failed ping counter")
			failedPings = 0
			continue
		case <-pingTicker.C:
		}

		// The previous ping was never answered.
		if msgID != "" {
			failedPings++
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.pingTimeout)

		// Send the ping message to the client.
		msgID = MustString(uuid.New().String())

		if err := s.session.Send(ctx, JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			ID:      msgID,
			Method:  methodPing,
		}); err != nil {
			s.logger.Warn("failed to send ping to client",
				slog.String("err", err.Error()))
			failedPings++
		}
		cancel()
	}
}

func (s serverSession) sendError(id MustString, jsonErr JSONRPCError) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.session.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &jsonErr,
	}); err != nil {
		s.logger.Error("failed to send error", slog.String("err", err.Error()))
	}
}

func (s serverSession) handleServerImplementationMessage(ctx context.Context, msg JSONRPCMessage) {
	// This variables is used to store all the result from the server implementation
	// to be sent back to the client below.
	var result any
	// The err is should always an instance of JSONRPCError, we declare it as an error type,
	// is for the nil-check feature.
	var err error

	switch msg.Method {
	case MethodResourcesList:
		result, err = s.callListResources(ctx, msg)
	case MethodResourcesRead:
		result, err = s.callReadResource(ctx, msg)
	case MethodResourcesTemplatesList:
		result, err = s.callListResourceTemplates(ctx, msg)
	case MethodToolsList:
		result, err = s.callListTools(ctx, msg)
	case MethodToolsCall:
		result, err = s.callCallTool(ctx, msg)
	case MethodCompletionComplete:
		result, err = s.callComplete(ctx, msg)
	case MethodLoggingSetLevel:
		err = s.callSetLogLevel(msg)
		// logging/setLevel answers with an empty object.
		result = struct{}{}
	default:
		return
	}

	// A cancelled request must not be answered.
	if ctx.Err() != nil {
		s.logger.Debug("request cancelled", slog.String("method", msg.Method))
		return
	}

	resMsg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
	}

	if err != nil {
		jsonErr := JSONRPCError{}
		if !errors.As(err, &jsonErr) {
			jsonErr = JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()}
		}
		s.logger.Error("failed to call server implementation",
			slog.String("method", msg.Method),
			slog.String("err", err.Error()))
		resMsg.Error = &jsonErr
	} else if result != nil {
		resMsg.Result, err = json.Marshal(result)
		if err != nil {
			s.logger.Error("failed to marshal result", slog.String("err", err.Error()))
			resMsg.Error = &JSONRPCError{Code: jsonRPCInternalErrorCode, Message: "failed to marshal result"}
		}
	}

	sendCtx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.session.Send(sendCtx, resMsg); err != nil {
		s.logger.Error("failed to send result", slog.String("err", err.Error()))
	}
}

func (s serverSession) initializationHandshake(msg JSONRPCMessage) (initializeResult, Info, error) {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return initializeResult{}, Info{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err.Error()),
		}
	}

	if params.ProtocolVersion != ProtocolVersion {
		return initializeResult{}, Info{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("protocol version mismatch: %s != %s", params.ProtocolVersion, ProtocolVersion),
		}
	}

	return initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    s.serverCap,
		ServerInfo:      s.serverInfo,
		Instructions:    s.instructions,
	}, params.ClientInfo, nil
}

func (s serverSession) progressReporter(token MustString) ProgressReporter {
	return func(params ProgressParams) {
		if token == "" {
			return
		}
		params.ProgressToken = token

		paramsBs, err := json.Marshal(params)
		if err != nil {
			s.logger.Error("failed to marshal progress params", slog.String("err", err.Error()))
			return
		}

		msg := JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			Method:  methodNotificationsProgress,
			Params:  paramsBs,
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()

		if err := s.session.Send(ctx, msg); err != nil {
			s.logger.Error("failed to send message", slog.String("err", err.Error()))
		}
	}
}

func (s serverSession) callListResources(ctx context.Context, msg JSONRPCMessage) (ListResourcesResult, error) {
	if s.resourceServer == nil {
		return ListResourcesResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "resources not supported by server",
		}
	}

	var params ListResourcesParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListResourcesResult{}, err
	}

	rs, err := s.resourceServer.ListResources(ctx, params, s.progressReporter(params.Meta.ProgressToken))
	if err != nil {
		nErr := fmt.Errorf("failed to list resources: %w", err)
		return ListResourcesResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return rs, nil
}

func (s serverSession) callReadResource(ctx context.Context, msg JSONRPCMessage) (ReadResourceResult, error) {
	if s.resourceServer == nil {
		return ReadResourceResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "resources not supported by server",
		}
	}

	var params ReadResourceParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ReadResourceResult{}, err
	}

	r, err := s.resourceServer.ReadResource(ctx, params, s.progressReporter(params.Meta.ProgressToken))
	if err != nil {
		nErr := fmt.Errorf("failed to read resource: %w", err)
		return ReadResourceResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: nErr.Error(),
		}
	}

	return r, nil
}

func (s serverSession) callListResourceTemplates(
	ctx context.Context,
	msg JSONRPCMessage,
) (ListResourceTemplatesResult, error) {
	if s.resourceServer == nil {
		return ListResourceTemplatesResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "resources not supported by server",
		}
	}

	var params ListResourceTemplatesParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListResourceTemplatesResult{}, err
	}

	ts, err := s.resourceServer.ListResourceTemplates(ctx, params, s.progressReporter(params.Meta.ProgressToken))
	if err != nil {
		nErr := fmt.Errorf("failed to list resource templates: %w", err)
		return ListResourceTemplatesResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return ts, nil
}

func (s serverSession) callComplete(ctx context.Context, msg JSONRPCMessage) (CompletionResult, error) {
	var params CompletesCompletionParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return CompletionResult{}, err
	}

	if params.Ref.Type != CompletionRefResource || s.resourceServer == nil {
		return CompletionResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("completion not supported for ref type %q", params.Ref.Type),
		}
	}

	result, err := s.resourceServer.CompletesResourceTemplate(ctx, params)
	if err != nil {
		nErr := fmt.Errorf("failed to complete resource template: %w", err)
		return CompletionResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}
	if result.Completion.Values == nil {
		result.Completion.Values = []string{}
	}

	return result, nil
}

func (s serverSession) callListTools(ctx context.Context, msg JSONRPCMessage) (ListToolsResult, error) {
	if s.toolServer == nil {
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params ListToolsParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListToolsResult{}, err
	}

	ts, err := s.toolServer.ListTools(ctx, params, s.progressReporter(params.Meta.ProgressToken))
	if err != nil {
		nErr := fmt.Errorf("failed to list tools: %w", err)
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return ts, nil
}

func (s serverSession) callCallTool(ctx context.Context, msg JSONRPCMessage) (CallToolResult, error) {
	if s.toolServer == nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params CallToolParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return CallToolResult{}, err
	}

	result, err := s.toolServer.CallTool(ctx, params, s.progressReporter(params.Meta.ProgressToken))
	if err != nil {
		result = CallToolResult{
			Content: []Content{
				{
					Type: ContentTypeText,
					Text: err.Error(),
				},
			},
			IsError: true,
		}
	}

	return result, nil
}

func (s serverSession) callSetLogLevel(msg JSONRPCMessage) error {
	if s.logHandler == nil {
		return JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "logging not supported by server",
		}
	}

	var params setLogLevelParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return err
	}
	if !params.Level.Valid() {
		return JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("invalid log level: %q", params.Level),
		}
	}

	s.logHandler.SetLogLevel(params.Level)

	return nil
}

// unmarshalParams decodes request params into v. Absent params leave v at its zero value.
func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}
	return nil
}

func (r *inflightRequests) add(id MustString, cancel context.CancelFunc) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.cancels[id] = cancel
}

func (r *inflightRequests) remove(id MustString) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if cancel, ok := r.cancels[id]; ok {
		cancel()
		delete(r.cancels, id)
	}
}

func (r *inflightRequests) cancel(id MustString) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if cancel, ok := r.cancels[id]; ok {
		cancel()
	}
}
