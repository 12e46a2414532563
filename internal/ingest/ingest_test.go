// internal/ingest/ingest_test.go
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/signalnine/vmktriage/internal/category"
	"github.com/signalnine/vmktriage/internal/pipeline"
	"github.com/signalnine/vmktriage/internal/record"
	"github.com/signalnine/vmktriage/internal/store"
)

var vobdLines = []string{
	"2025-01-19T19:12:20.060Z In(14) vobd[2097896]:  [netCorrelator] 6155338us: [esx.problem.net.vmnic.linkstate.down] vmnic2 is down",
	"2025-01-19T19:12:25.000Z In(14) vobd[2097896]:  [vmfsCorrelator] 6160000us: [esx.problem.vmfs.heartbeat.timedout] 5f2b1c3d-aa datastore1",
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func newIngester(t *testing.T, checkpointDir string, logger *zap.Logger) (*Ingester, *store.DB) {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d := category.NewDictionary(category.Category{Name: "NETWORK", Tokens: []string{"net"}})
	return New(db, pipeline.Options{Dictionary: d}, checkpointDir, logger), db
}

func TestIngestFileResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "vobd.log")
	writeLines(t, logPath, vobdLines)

	ing, db := newIngester(t, filepath.Join(dir, "state"), nil)
	ctx := context.Background()

	run, err := ing.File(ctx, logPath, record.FamilyDiagnostic)
	if err != nil {
		t.Fatalf("File error: %v", err)
	}
	if run == nil || run.Classified != 2 {
		t.Fatalf("first run = %+v, want 2 records", run)
	}

	ts, err := pipeline.ReadCheckpoint(ing.CheckpointPath(record.FamilyDiagnostic))
	if err != nil {
		t.Fatalf("ReadCheckpoint error: %v", err)
	}
	if want := time.Date(2025, 1, 19, 19, 12, 25, 0, time.UTC); !ts.Equal(want) {
		t.Errorf("checkpoint = %v, want %v", ts, want)
	}

	// Nothing new on the second pass
	run, err = ing.File(ctx, logPath, record.FamilyDiagnostic)
	if err != nil {
		t.Fatalf("File error: %v", err)
	}
	if run != nil {
		t.Errorf("second run = %+v, want nil", run)
	}

	// Appended lines are picked up alone
	writeLines(t, logPath, append(vobdLines,
		"2025-01-19T19:13:00.000Z In(14) vobd[2097896]:  [netCorrelator] 6200000us: [esx.problem.net.vmnic.linkstate.down] vmnic3 is down"))
	run, err = ing.File(ctx, logPath, record.FamilyDiagnostic)
	if err != nil {
		t.Fatalf("File error: %v", err)
	}
	if run == nil || run.Classified != 1 || run.Dropped != 2 {
		t.Fatalf("third run = %+v, want 1 record and 2 dropped", run)
	}

	runs, err := db.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("stored %d runs, want 2", len(runs))
	}
}

func TestIngestFileWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "vobd.log")
	writeLines(t, logPath, vobdLines)

	ing, _ := newIngester(t, "", nil)
	if ing.CheckpointPath(record.FamilyDiagnostic) != "" {
		t.Error("CheckpointPath should be empty when disabled")
	}

	for i := 0; i < 2; i++ {
		run, err := ing.File(context.Background(), logPath, record.FamilyDiagnostic)
		if err != nil {
			t.Fatalf("File error: %v", err)
		}
		if run == nil || run.Classified != 2 {
			t.Errorf("pass %d run = %+v, want 2 records", i, run)
		}
	}
}

func TestIngestFileMissing(t *testing.T) {
	ing, _ := newIngester(t, t.TempDir(), nil)
	if _, err := ing.File(context.Background(), filepath.Join(t.TempDir(), "vobd.log"), record.FamilyDiagnostic); err == nil {
		t.Error("File accepted a missing log")
	}
}

func TestWatcherCollectsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "vobd.log"), vobdLines)
	writeLines(t, filepath.Join(dir, "hostd.log"), []string{"not a triage family"})

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	ing, db := newIngester(t, filepath.Join(dir, "state"), logger)

	w := NewWatcher(ing, []string{filepath.Join(dir, "*.log"), filepath.Join(dir, "vobd.log")}, time.Hour, logger)
	if got := w.files(); len(got) != 2 {
		t.Fatalf("files() = %v, want 2 unique matches", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The first collection runs immediately on start
	deadline := time.Now().Add(5 * time.Second)
	for logs.FilterMessage("run stored").Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if logs.FilterMessage("skipping file of unknown family").Len() != 1 {
		t.Error("hostd.log was not skipped")
	}
	runs, err := db.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 1 || runs[0].Family != "vobd" {
		t.Errorf("runs = %+v, want one vobd run", runs)
	}
}

func TestOldestFirst(t *testing.T) {
	got := OldestFirst([]string{
		"/scratch/log/vmkernel.0.gz",
		"/scratch/log/vmkernel.log",
		"/scratch/log/vmkernel.1.gz",
		"/scratch/log/vobd.log",
		"/scratch/log/vmkernel.10.gz",
	})
	want := []string{
		"/scratch/log/vmkernel.10.gz",
		"/scratch/log/vmkernel.1.gz",
		"/scratch/log/vmkernel.0.gz",
		"/scratch/log/vmkernel.log",
		"/scratch/log/vobd.log",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("OldestFirst = %v, want %v", got, want)
	}
}

func TestWatcherIngestsOlderRotations(t *testing.T) {
	dir := t.TempDir()
	// vobd.0 is the newer rotation and sorts first by name
	writeLines(t, filepath.Join(dir, "vobd.0.log"), []string{
		"2025-01-20T08:00:00.000Z In(14) vobd[2097896]:  [netCorrelator] 7000000us: [esx.problem.net.vmnic.linkstate.down] vmnic2 is down",
	})
	writeLines(t, filepath.Join(dir, "vobd.1.log"), vobdLines)

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	ing, db := newIngester(t, filepath.Join(dir, "state"), logger)

	w := NewWatcher(ing, []string{filepath.Join(dir, "vobd*.log")}, time.Hour, logger)
	w.collect(context.Background())

	if n := logs.FilterMessage("run stored").Len(); n != 2 {
		t.Fatalf("stored %d runs, want 2", n)
	}
	runs, err := db.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	sources := map[string]int{}
	for _, r := range runs {
		sources[filepath.Base(r.Source)] = r.Classified
	}
	if sources["vobd.1.log"] != 2 || sources["vobd.0.log"] != 1 {
		t.Errorf("runs by source = %v, want vobd.1.log:2 vobd.0.log:1", sources)
	}

	ts, err := pipeline.ReadCheckpoint(ing.CheckpointPath(record.FamilyDiagnostic))
	if err != nil {
		t.Fatalf("ReadCheckpoint error: %v", err)
	}
	if want := time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC); !ts.Equal(want) {
		t.Errorf("checkpoint = %v, want %v", ts, want)
	}
}
