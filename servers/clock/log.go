package clock

import (
	"encoding/json"
	"iter"
	"log/slog"

	mcp "github.com/MegaGrindStone/go-mcp-clock"
)

type logData struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// LogStreams implements mcp.LogHandler interface. The stream ends when the server is closed.
func (s *Server) LogStreams() iter.Seq[mcp.LogParams] {
	return func(yield func(mcp.LogParams) bool) {
		for {
			select {
			case <-s.done:
				return
			case params := <-s.logs:
				if !yield(params) {
					return
				}
			}
		}
	}
}

// SetLogLevel implements mcp.LogHandler interface.
func (s *Server) SetLogLevel(level mcp.LogLevel) {
	s.logLock.Lock()
	defer s.logLock.Unlock()

	s.logLevel = level
}

// log queues a notification for the clients. Messages are dropped while the queue is full,
// a slow client must not stall tool calls.
func (s *Server) log(level mcp.LogLevel, msg string, fields map[string]string) {
	s.logLock.RLock()
	minimum := s.logLevel
	s.logLock.RUnlock()

	if !level.Enabled(minimum) {
		return
	}

	dataBs, err := json.Marshal(logData{Message: msg, Fields: fields})
	if err != nil {
		s.logger.Error("failed to marshal log data", slog.String("err", err.Error()))
		return
	}

	select {
	case <-s.done:
	case s.logs <- mcp.LogParams{
		Level:  level,
		Logger: loggerName,
		Data:   dataBs,
	}:
	default:
		s.logger.Debug("log queue is full, dropping message", slog.String("message", msg))
	}
}
