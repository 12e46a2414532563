// internal/reader/reader.go
package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/signalnine/vmktriage/internal/parser"
	"github.com/signalnine/vmktriage/internal/record"
)

const (
	// DefaultChunkLines is how many lines one worker parses at a time
	DefaultChunkLines = 4096

	// MaxLineBytes caps a single log line; the excess is discarded and the
	// truncated line is parsed like any other
	MaxLineBytes = 1 << 20
)

// Reader streams a log file through a family parser
type Reader struct {
	parser     parser.Parser
	workers    int
	chunkLines int
}

// Option configures a Reader
type Option func(*Reader)

// WithWorkers sets how many chunks may be parsed concurrently
func WithWorkers(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithChunkLines sets the chunk size in lines
func WithChunkLines(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.chunkLines = n
		}
	}
}

// New creates a reader for a log family
func New(family record.Family, opts ...Option) (*Reader, error) {
	p, err := parser.New(family)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		parser:     p,
		workers:    runtime.GOMAXPROCS(0),
		chunkLines: DefaultChunkLines,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Family returns the family this reader parses
func (r *Reader) Family() record.Family {
	return r.parser.Family()
}

type chunk struct {
	first   int
	lines   []string
	records []record.Record
	done    chan struct{}
}

func (r *Reader) parseChunk(c *chunk) {
	defer close(c.done)
	c.records = make([]record.Record, 0, len(c.lines))
	for i, line := range c.lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec := r.parser.Parse(line)
		record.SetLine(rec, c.first+i)
		c.records = append(c.records, rec)
	}
}

// Stream reads src line by line, parses chunks concurrently and calls emit
// with each chunk's records in input order. Blank lines produce no record.
// ctx is checked between chunks; batches emitted before an abort are complete.
func (r *Reader) Stream(ctx context.Context, src io.Reader, emit func([]record.Record) error) error {
	g, gctx := errgroup.WithContext(ctx)
	pending := make(chan *chunk, r.workers)

	g.Go(func() error {
		defer close(pending)

		br := bufio.NewReaderSize(src, 64*1024)

		lineNo := 0
		batch := make([]string, 0, r.chunkLines)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			c := &chunk{first: lineNo - len(batch) + 1, lines: batch, done: make(chan struct{})}
			batch = make([]string, 0, r.chunkLines)
			select {
			case pending <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
			go r.parseChunk(c)
			return nil
		}

		for {
			line, err := readLine(br)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("read line %d: %w", lineNo+1, err)
			}
			lineNo++
			batch = append(batch, strings.TrimSuffix(line, "\r"))
			if len(batch) == r.chunkLines {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	g.Go(func() error {
		for c := range pending {
			<-c.done
			if len(c.records) == 0 {
				continue
			}
			if err := emit(c.records); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// readLine returns the next line without its terminator, truncated to
// MaxLineBytes. io.EOF is returned only when no line is left.
func readLine(br *bufio.Reader) (string, error) {
	var line []byte
	started := false
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && started {
				return string(line), nil
			}
			return "", err
		}
		started = true
		if room := MaxLineBytes - len(line); room > 0 {
			line = append(line, frag[:min(len(frag), room)]...)
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}

// Open opens a log file, transparently decompressing rotated .gz files
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return zerr
}

// ReadFile parses a whole file. On abort it returns the records read so far
// together with the context error. Open and read failures are returned as is.
func (r *Reader) ReadFile(ctx context.Context, path string) ([]record.Record, error) {
	f, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var records []record.Record
	err = r.Stream(ctx, f, func(batch []record.Record) error {
		records = append(records, batch...)
		return nil
	})
	return records, err
}
