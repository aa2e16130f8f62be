package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// StdIO implements a standard input/output transport layer for MCP communication using
// JSON-RPC message encoding over stdin/stdout or similar io.Reader/io.Writer pairs. It
// provides a single persistent session and handles bidirectional message passing through
// internal channels, processing messages sequentially.
//
// The session configuration of a StdIO transport is fixed at construction time with
// WithStdIOConfig, since there is no connect request to carry it.
//
// Proper initialization requires using the NewStdIO constructor function to create new
// instances.
type StdIO struct {
	sess   stdIOSession
	closed chan struct{}
}

// StdIOOption represents the options for the StdIO transport.
type StdIOOption func(*StdIO)

type stdIOSession struct {
	id     string
	config SessionConfig
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeMessages chan stdIOMessage
	done          chan struct{}
	readClosed    chan struct{}
	writeClosed   chan struct{}
}

type stdIOMessage struct {
	msg  []byte
	errs chan error
}

type stdIOLine struct {
	line string
	err  error
}

// NewStdIO creates a new StdIO instance configured with the provided reader and writer.
// The instance is initialized with default logging and required internal communication
// channels.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) StdIO {
	s := StdIO{
		sess: stdIOSession{
			id:            uuid.New().String(),
			config:        SessionConfig{},
			reader:        reader,
			writer:        writer,
			logger:        slog.Default(),
			writeMessages: make(chan stdIOMessage),
			done:          make(chan struct{}),
			readClosed:    make(chan struct{}),
			writeClosed:   make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// WithStdIOConfig sets the session configuration reported by the single StdIO session.
func WithStdIOConfig(config SessionConfig) StdIOOption {
	return func(s *StdIO) {
		if config != nil {
			s.sess.config = config
		}
	}
}

// WithStdIOLogger sets the logger for the transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.sess.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "stdio"),
		)
	}
}

// Sessions implements the ServerTransport interface by providing an iterator that yields
// a single persistent session. The iterator ends once that session is stopped.
func (s StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		go s.sess.processWriteMessages()

		// StdIO only supports a single session, so we yield it and wait until it's done.
		if !yield(s.sess) {
			return
		}
		<-s.sess.done
	}
}

// Shutdown implements the ServerTransport interface by waiting for the Sessions loop
// to finish.
func (s StdIO) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

func (s stdIOSession) ID() string {
	return s.id
}

func (s stdIOSession) Config() SessionConfig {
	return s.config
}

func (s stdIOSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	ioMsg := stdIOMessage{
		msg:  msgBs,
		errs: make(chan error, 1),
	}

	// Queue the message for sending so writes never interleave.
	select {
	case <-ctx.Done():
		s.logger.Error("failed to feed writeMessages channel", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while feeding writeMessages channel", slog.String("message", string(msgBs)))
		return nil
	case s.writeMessages <- ioMsg:
	}

	// Wait for the resulting error channel to receive the error.
	select {
	case err := <-ioMsg.errs:
		if err != nil {
			s.logger.Error("get error result from write", slog.String("err", err.Error()))
		}
		return err
	case <-ctx.Done():
		s.logger.Error("failed to wait for write result", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while waiting for write result", slog.String("message", string(msgBs)))
		return nil
	}
}

func (s stdIOSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		defer close(s.readClosed)

		lines := make(chan stdIOLine)
		// The reader goroutine may stay blocked in Read after the session stops, until the
		// underlying reader is closed.
		go s.readLines(lines)

		for {
			var l stdIOLine
			select {
			case <-s.done:
				return
			case l = <-lines:
			}

			if l.line != "" {
				var msg JSONRPCMessage
				if err := json.Unmarshal([]byte(l.line), &msg); err != nil {
					s.logger.Error("failed to unmarshal message", slog.String("err", err.Error()))
				} else if !yield(msg) {
					// We stop iteration if yield returns false
					return
				}
			}

			if l.err != nil {
				if !errors.Is(l.err, io.EOF) {
					s.logger.Error("failed to read message", slog.String("err", l.err.Error()))
				}
				return
			}
		}
	}
}

func (s stdIOSession) Stop() {
	close(s.done)
	<-s.readClosed
	<-s.writeClosed
}

func (s stdIOSession) readLines(lines chan<- stdIOLine) {
	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(s.reader)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)

		select {
		case <-s.done:
			return
		case lines <- stdIOLine{line: line, err: err}:
		}

		if err != nil {
			return
		}
	}
}

func (s stdIOSession) processWriteMessages() {
	defer close(s.writeClosed)

	for {
		// Process writing the message queue until the session is closed.
		var msg stdIOMessage
		select {
		case <-s.done:
			return
		case msg = <-s.writeMessages:
		}

		_, err := s.writer.Write(msg.msg)

		msg.errs <- err
	}
}
