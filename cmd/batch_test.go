package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/store"
)

func testDocs(n int) []model.Document {
	docs := make([]model.Document, n)
	for i := range docs {
		docs[i] = model.Document{ID: string(rune('a' + i)), Text: "长江发生洪水。"}
	}
	return docs
}

func TestProcessBatch_Empty(t *testing.T) {
	rep, err := processBatch(context.Background(), nil, 4, func(context.Context, model.Document) (*model.Run, error) {
		t.Fatal("run should not be called")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Empty(t, rep.Entries())
}

func TestProcessBatch_FailuresDoNotAbort(t *testing.T) {
	var calls atomic.Int32
	run := func(_ context.Context, doc model.Document) (*model.Run, error) {
		calls.Add(1)
		if doc.ID == "b" {
			return &model.Run{ID: "run-b", Status: model.RunStatusFailed}, errors.New("provider down")
		}
		return &model.Run{ID: "run-" + doc.ID, Result: &model.Extraction{DocumentID: doc.ID}}, nil
	}

	rep, err := processBatch(context.Background(), testDocs(4), 2, run)
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())

	tot := rep.Totals()
	assert.Equal(t, 4, tot.Documents)
	assert.Equal(t, 3, tot.Complete)
	assert.Equal(t, 1, tot.Failed)

	entries := rep.Entries()
	assert.Equal(t, "run-b", entries[1].RunID)
	assert.EqualError(t, entries[1].Err, "provider down")
}

func TestProcessBatch_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	block := make(chan struct{})
	run := func(context.Context, model.Document) (*model.Run, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-block
		inFlight.Add(-1)
		return &model.Run{}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = processBatch(context.Background(), testDocs(6), 2, run)
	}()
	for range 6 {
		block <- struct{}{}
	}
	<-done
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcessBatch_WithRunner(t *testing.T) {
	p := &stubProvider{}
	env := testEnv(t, p, true)

	rep, err := processBatch(context.Background(), testDocs(3), 2, env.Runner().Run)
	require.NoError(t, err)

	tot := rep.Totals()
	assert.Equal(t, 3, tot.Complete)
	assert.Equal(t, 3, tot.Entities)

	runs, err := env.Store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusComplete, r.Status)
		require.NotNil(t, r.Result)
		assert.Equal(t, 1, r.Result.Result.Len())
	}
}

func TestWriteBatchOutputs(t *testing.T) {
	p := &stubProvider{}
	env := testEnv(t, p, false)
	docs := testDocs(2)

	rep, err := processBatch(context.Background(), docs, 2, func(ctx context.Context, doc model.Document) (*model.Run, error) {
		ext, err := env.Extractor.Extract(ctx, doc)
		return &model.Run{ID: "run-" + doc.ID, Result: ext}, err
	})
	require.NoError(t, err)

	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.xlsx")
	outputPath := filepath.Join(dir, "tasks.jsonl")
	require.NoError(t, writeBatchOutputs(rep, docs, reportPath, outputPath))

	f, err := xlsx.OpenFile(reportPath)
	require.NoError(t, err)
	require.Len(t, f.Sheet["Summary"].Rows, 3)
	require.Len(t, f.Sheet["Entities"].Rows, 3)

	out, err := os.Open(outputPath)
	require.NoError(t, err)
	defer out.Close() //nolint:errcheck
	lines := 0
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		lines++
		assert.Contains(t, sc.Text(), `"text":"长江发生洪水。"`)
		assert.Contains(t, sc.Text(), `"labels":["河流湖泊"]`)
	}
	assert.Equal(t, 2, lines)
}

func TestWriteBatchOutputs_Nothing(t *testing.T) {
	useTestConfig(t)
	require.NoError(t, writeBatchOutputs(nil, nil, "", ""))
}
