package format

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() {
	f.flushes++
}

func TestStreamWriter_OneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)

	require.NoError(t, w.Write(map[string]string{"a": "1"}))
	require.NoError(t, w.Write(map[string]string{"b": "2"}))

	scanner := bufio.NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
	for _, line := range lines {
		var v map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &v))
	}
}

func TestStreamWriter_FlushesPerLine(t *testing.T) {
	rec := &flushRecorder{}
	w := NewStreamWriter(rec)

	require.NoError(t, w.Write(map[string]int{"n": 1}))
	require.NoError(t, w.Write(map[string]int{"n": 2}))
	require.Equal(t, 2, rec.flushes)
}

func TestStreamWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)

	w.WriteError(errors.New("upstream exploded"))

	line := strings.TrimSpace(buf.String())
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(line), &v))
	require.Equal(t, "upstream exploded", v["error"])
}

func TestStreamWriter_WritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)

	resp, ok := Streaming(Chunk{
		ID:      "chunk-1",
		Choices: []ChunkChoice{{Delta: ProviderMessage{Content: "hi"}}},
	}, map[string]any{"conversation_id": "c1"}, "")
	require.True(t, ok)
	require.NoError(t, w.Write(resp))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "chunk-1", decoded["id"])
}
