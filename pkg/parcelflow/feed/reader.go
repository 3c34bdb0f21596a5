// Package feed reads line-delimited records from files, pipes and TCP
// connections and hands them to an ingestion engine in arrival order.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/ingest"
)

// Defaults for Config.
const (
	DefaultQueueSize    = 1024
	DefaultMaxLineBytes = 1 << 20
)

// Config bounds the memory a feed may use.
type Config struct {
	// QueueSize is the number of lines buffered between the reader and the
	// engine. A full queue blocks the reader. Default: 1024
	QueueSize int

	// MaxLineBytes is the longest record accepted. Longer lines are
	// rejected as malformed. Default: 1 MiB
	MaxLineBytes int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
	return c
}

// Processor consumes records. *ingest.Engine implements it.
type Processor interface {
	Process(ctx context.Context, raw []byte) (ingest.Outcome, error)
	Reject(ctx context.Context, raw []byte, cause error) (ingest.Outcome, error)
}

// Line is one non-blank input line.
type Line struct {
	// Number is the 1-based line number in the stream, blank lines included.
	Number int64

	// Data holds the line without its terminator. For an oversized line it
	// holds only the first MaxLineBytes bytes.
	Data []byte

	// TooLong marks a line that exceeded MaxLineBytes.
	TooLong bool
}

// Reader splits a stream into lines without ever buffering more than
// MaxLineBytes of a single line.
type Reader struct {
	src    *bufio.Reader
	max    int
	number int64
}

// NewReader wraps r.
func NewReader(r io.Reader, cfg Config) *Reader {
	cfg = cfg.withDefaults()
	return &Reader{src: bufio.NewReader(r), max: cfg.MaxLineBytes}
}

// Next returns the next non-blank line, or io.EOF at the end of the stream.
func (r *Reader) Next() (Line, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return Line{}, err
		}
		if line.TooLong || len(bytes.TrimSpace(line.Data)) > 0 {
			return line, nil
		}
	}
}

func (r *Reader) readLine() (Line, error) {
	var (
		buf     []byte
		tooLong bool
		read    bool
	)
	for {
		frag, err := r.src.ReadSlice('\n')
		if len(frag) > 0 {
			read = true
		}
		if err == nil {
			frag = bytes.TrimRight(frag, "\r\n")
		}
		if !tooLong {
			if len(buf)+len(frag) > r.max {
				buf = append(buf, frag[:r.max-len(buf)]...)
				tooLong = true
			} else {
				buf = append(buf, frag...)
			}
		}

		switch {
		case err == nil:
			r.number++
			return Line{Number: r.number, Data: buf, TooLong: tooLong}, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && read:
			r.number++
			return Line{Number: r.number, Data: buf, TooLong: tooLong}, nil
		default:
			return Line{}, err
		}
	}
}

// ReadError is a failure of the input stream rather than of the processor.
type ReadError struct {
	Err error
}

// Error implements the error interface.
func (e *ReadError) Error() string {
	return fmt.Sprintf("read feed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ReadError) Unwrap() error {
	return e.Err
}

// Run drains src through p in arrival order. Lines are read ahead into a
// queue of cfg.QueueSize entries.
//
// Run returns nil at end of stream, ctx.Err() when cancelled, a *ReadError
// when src fails, and the processor's error when a backend fails. A read
// blocked in src when Run returns early finishes in the background.
func Run(ctx context.Context, src io.Reader, p Processor, cfg Config) error {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan Line, cfg.QueueSize)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		r := NewReader(src, cfg)
		for {
			line, err := r.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- &ReadError{Err: err}
				}
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if err := handle(ctx, p, line, cfg.MaxLineBytes); err != nil {
				return err
			}
		}
	}
}

func handle(ctx context.Context, p Processor, line Line, maxBytes int) error {
	var err error
	if line.TooLong {
		_, err = p.Reject(ctx, line.Data, pferrors.Validation(pferrors.KindSchemaType, "",
			"line %d exceeds %d bytes", line.Number, maxBytes))
	} else {
		_, err = p.Process(ctx, line.Data)
	}
	if err != nil {
		return fmt.Errorf("line %d: %w", line.Number, err)
	}
	return nil
}
