package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"maps"
	"slices"
	"strings"
	"time"
)

// LogEntry is one line of JSON-mode output.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Session   string                 `json:"session,omitempty"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// StructuredLogger writes leveled events with fixed context (component and
// terminal session) through a standard logger, either as text or JSON.
type StructuredLogger struct {
	logger    *log.Logger
	component string
	session   string
	jsonMode  bool
}

// NewStructuredLogger wraps logger. A nil logger discards everything.
func NewStructuredLogger(logger *log.Logger, component string, jsonMode bool) *StructuredLogger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &StructuredLogger{
		logger:    logger,
		component: component,
		jsonMode:  jsonMode,
	}
}

// WithSession returns a copy tagged with a session id.
func (s *StructuredLogger) WithSession(session string) *StructuredLogger {
	c := *s
	c.session = session
	return &c
}

// WithComponent returns a copy for another component.
func (s *StructuredLogger) WithComponent(component string) *StructuredLogger {
	c := *s
	c.component = component
	return &c
}

func (s *StructuredLogger) Info(msg string, fields ...map[string]interface{}) {
	s.write("INFO", msg, fields)
}

func (s *StructuredLogger) Warn(msg string, fields ...map[string]interface{}) {
	s.write("WARN", msg, fields)
}

func (s *StructuredLogger) Error(msg string, fields ...map[string]interface{}) {
	s.write("ERROR", msg, fields)
}

// Debug is dropped unless DEV_MODE=1.
func (s *StructuredLogger) Debug(msg string, fields ...map[string]interface{}) {
	if DevMode {
		s.write("DEBUG", msg, fields)
	}
}

func (s *StructuredLogger) write(level, msg string, fields []map[string]interface{}) {
	merged := mergeFields(fields...)
	if s.jsonMode {
		data, err := json.Marshal(LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level,
			Component: s.component,
			Session:   s.session,
			Message:   msg,
			Fields:    merged,
		})
		if err != nil {
			s.logger.Printf("[%s] %s (unencodable fields: %v)", level, msg, err)
			return
		}
		s.logger.Println(string(data))
		return
	}

	var b strings.Builder
	if s.component != "" {
		fmt.Fprintf(&b, "[%s] ", s.component)
	}
	if s.session != "" {
		fmt.Fprintf(&b, "[session:%s] ", shortID(s.session))
	}
	b.WriteString(msg)
	if len(merged) > 0 {
		b.WriteString(" |")
		for _, k := range slices.Sorted(maps.Keys(merged)) {
			fmt.Fprintf(&b, " %s=%v", k, merged[k])
		}
	}
	s.logger.Println(b.String())
}

// mergeFields flattens field maps; later maps win.
func mergeFields(fields ...map[string]interface{}) map[string]interface{} {
	var result map[string]interface{}
	for _, m := range fields {
		if len(m) == 0 {
			continue
		}
		if result == nil {
			result = make(map[string]interface{}, len(m))
		}
		maps.Copy(result, m)
	}
	return result
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
