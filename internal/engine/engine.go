// Package engine defines the analysis engine abstraction. An engine takes
// an opinion document plus an instruction prompt and streams back the
// written analysis.
package engine

import (
	"context"
	"io"
	"strings"
)

// Document is an artifact handed to the engine for analysis.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

// Chunk is one increment of streamed analysis text.
type Chunk struct {
	Text string
}

// Stream yields analysis text incrementally. Recv returns io.EOF when the
// engine has finished the response.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Engine produces an analysis of a document.
type Engine interface {
	// Analyze starts an analysis and returns a stream of response text.
	Analyze(ctx context.Context, doc Document, prompt string) (Stream, error)
	// Model identifies the underlying model for record keeping.
	Model() string
}

// Collect drains a stream into the full response text. The stream is
// closed regardless of outcome.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk.Text)
	}
}

// staticStream serves a fixed response as a single chunk.
type staticStream struct {
	text string
	done bool
}

// NewStaticStream wraps a complete response in the Stream interface.
// Useful for engines that answer in one shot and for tests.
func NewStaticStream(text string) Stream {
	return &staticStream{text: text}
}

func (s *staticStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	s.done = true
	return Chunk{Text: s.text}, nil
}

func (s *staticStream) Close() error { return nil }

// Noop is an engine that returns an empty analysis. It stands in when no
// engine is configured so scrape-only deployments need no credentials.
type Noop struct{}

// Analyze implements Engine.
func (Noop) Analyze(ctx context.Context, doc Document, prompt string) (Stream, error) {
	return NewStaticStream(""), nil
}

// Model implements Engine.
func (Noop) Model() string { return "noop" }
