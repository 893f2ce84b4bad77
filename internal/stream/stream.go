// Package stream turns an OpenAI-compatible server-sent-event body into the
// sequence of text fragments it carries.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	readSize   = 4096
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// UpstreamError is an error frame sent by the completion endpoint in place of
// a delta.
type UpstreamError struct {
	Type    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Type == "" {
		return "upstream: " + e.Message
	}
	return fmt.Sprintf("upstream %s: %s", e.Type, e.Message)
}

// Aggregator decodes completion streams. The zero value is not usable; call
// New.
type Aggregator struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger}
}

var std = New(nil)

// Fragments decodes r with a logger-less Aggregator.
func Fragments(ctx context.Context, r io.Reader) iter.Seq2[string, error] {
	return std.Fragments(ctx, r)
}

// Collect drains r with a logger-less Aggregator.
func Collect(ctx context.Context, r io.Reader, onFragment func(string)) (string, error) {
	return std.Collect(ctx, r, onFragment)
}

// Fragments returns the text fragments of r in arrival order. The sequence
// ends at "data: [DONE]", at EOF, on a read error, on an upstream error frame
// or when ctx is done. It reads r as it goes and cannot be restarted.
func (a *Aggregator) Fragments(ctx context.Context, r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var (
			buf     = make([]byte, readSize)
			pending []byte
		)
		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			n, readErr := r.Read(buf)
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			pending = append(pending, buf[:n]...)

			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := string(pending[:i])
				pending = pending[i+1:]
				if !a.line(line, yield) {
					return
				}
			}

			if errors.Is(readErr, io.EOF) {
				if len(pending) > 0 {
					a.line(string(pending), yield)
				}
				return
			}
			if readErr != nil {
				yield("", fmt.Errorf("read stream: %w", readErr))
				return
			}
		}
	}
}

// line handles one SSE line and reports whether decoding should continue.
func (a *Aggregator) line(line string, yield func(string, error) bool) bool {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return true
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneMarker {
		return false
	}
	if !gjson.Valid(payload) {
		a.logger.Debug("Skipping malformed stream frame", zap.Int("bytes", len(payload)))
		return true
	}

	frame := gjson.Parse(payload)
	if msg := frame.Get("error.message"); msg.Exists() {
		yield("", &UpstreamError{Type: frame.Get("error.type").String(), Message: msg.String()})
		return false
	}
	content := frame.Get("choices.0.delta.content").String()
	if content == "" {
		return true
	}
	return yield(content, nil)
}

// Collect drains r, calling onFragment for each fragment before the next one
// is read, and returns the concatenated text. When ctx is done the partial
// text is discarded and ctx.Err() is returned.
func (a *Aggregator) Collect(ctx context.Context, r io.Reader, onFragment func(string)) (string, error) {
	var sb strings.Builder
	for fragment, err := range a.Fragments(ctx, r) {
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return sb.String(), err
		}
		sb.WriteString(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
	}
	return sb.String(), nil
}
