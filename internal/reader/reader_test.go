// internal/reader/reader_test.go
package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/vmktriage/internal/record"
)

func kernelLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("2025-01-19T19:12:%02d.%03dZ In(182) vmkernel: cpu%d:2097152)NMP: event %d", i%60, i%1000, i%64, i)
	}
	return lines
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadFilePreservesOrder(t *testing.T) {
	lines := kernelLines(1000)
	path := writeFile(t, "vmkernel.log", strings.Join(lines, "\n")+"\n")

	r, err := New(record.FamilyKernel, WithWorkers(4), WithChunkLines(7))
	require.NoError(t, err)
	assert.Equal(t, record.FamilyKernel, r.Family())

	records, err := r.ReadFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, len(lines))
	for i, rec := range records {
		assert.Equal(t, lines[i], rec.Raw())
		assert.Equal(t, i+1, rec.LineNumber())
	}
}

func TestStreamSkipsBlankLines(t *testing.T) {
	src := "2025-01-19T19:12:20.060Z: boot\r\n\n   \nloose narration\n"
	r, err := New(record.FamilyDiagnostic, WithChunkLines(2))
	require.NoError(t, err)

	var got []record.Record
	err = r.Stream(context.Background(), strings.NewReader(src), func(batch []record.Record) error {
		got = append(got, batch...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0].(*record.DiagnosticRecord)
	assert.Equal(t, "2025-01-19T19:12:20.060Z: boot", first.RawLine)
	assert.Equal(t, record.ShapeSimple, first.Shape)
	assert.Equal(t, 1, first.Line)

	second := got[1].(*record.DiagnosticRecord)
	assert.Equal(t, "loose narration", second.Message)
	assert.Equal(t, 4, second.Line)
}

func TestReadFileGzip(t *testing.T) {
	lines := kernelLines(50)
	path := filepath.Join(t.TempDir(), "vmkernel.0.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	r, err := New(record.FamilyKernel)
	require.NoError(t, err)
	records, err := r.ReadFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 50)
	assert.Equal(t, "NMP", records[49].ModuleName())
}

func TestReadFileBadGzip(t *testing.T) {
	path := writeFile(t, "vmkernel.1.gz", "not gzip at all")
	r, err := New(record.FamilyKernel)
	require.NoError(t, err)
	_, err = r.ReadFile(context.Background(), path)
	assert.Error(t, err)
}

func TestReadFileMissing(t *testing.T) {
	r, err := New(record.FamilyKernel)
	require.NoError(t, err)
	records, err := r.ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.log"))
	assert.Nil(t, records)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStreamTruncatesLongLine(t *testing.T) {
	src := "short\n" + strings.Repeat("x", MaxLineBytes+10) + "\nafter"
	r, err := New(record.FamilyDiagnostic, WithChunkLines(2))
	require.NoError(t, err)

	var records []record.Record
	err = r.Stream(context.Background(), strings.NewReader(src), func(batch []record.Record) error {
		records = append(records, batch...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Len(t, records[1].Raw(), MaxLineBytes)
	assert.Equal(t, record.ShapeUnstructured, records[1].ShapeName())
	assert.Equal(t, 2, records[1].LineNumber())
	assert.Equal(t, "after", records[2].Raw())
	assert.Equal(t, 3, records[2].LineNumber())
}

func TestStreamAbortBetweenChunks(t *testing.T) {
	lines := kernelLines(1000)
	r, err := New(record.FamilyKernel, WithWorkers(1), WithChunkLines(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []record.Record
	err = r.Stream(ctx, strings.NewReader(strings.Join(lines, "\n")), func(batch []record.Record) error {
		got = append(got, batch...)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, got)
	assert.Less(t, len(got), len(lines))
	assert.Zero(t, len(got)%2, "partial results are whole chunks")
	for i, rec := range got {
		assert.Equal(t, lines[i], rec.Raw())
	}
}

func TestStreamEmitError(t *testing.T) {
	boom := errors.New("sink full")
	r, err := New(record.FamilyKernel, WithChunkLines(10))
	require.NoError(t, err)
	err = r.Stream(context.Background(), strings.NewReader(strings.Join(kernelLines(100), "\n")), func([]record.Record) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestNewUnknownFamily(t *testing.T) {
	_, err := New(record.Family("hostd"))
	assert.ErrorIs(t, err, record.ErrUnknownFamily)
}
