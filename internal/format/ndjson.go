package format

import (
	"encoding/json"
	"io"
	"net/http"
)

// StreamWriter writes successive response objects as newline-delimited
// JSON, flushing after every line when the underlying writer supports it.
type StreamWriter struct {
	w       io.Writer
	flusher http.Flusher
	enc     *json.Encoder
}

// NewStreamWriter wraps w for NDJSON output.
func NewStreamWriter(w io.Writer) *StreamWriter {
	sw := &StreamWriter{w: w, enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Write serializes v as one NDJSON line.
func (s *StreamWriter) Write(v any) error {
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// WriteError emits a terminal error line so stream consumers see the
// failure instead of a truncated stream.
func (s *StreamWriter) WriteError(err error) {
	line, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return
	}
	s.w.Write(append(line, '\n'))
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
