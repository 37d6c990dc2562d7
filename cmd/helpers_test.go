package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotate-cli/internal/extract"
	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/store"
	"github.com/sells-group/annotate-cli/internal/taxonomy"
)

// stubProvider answers every request with the known mentions that occur in
// the prompt.
type stubProvider struct {
	calls atomic.Int32
	err   error
}

var stubMentions = map[string]string{
	"长江":           "河流湖泊",
	"《中华人民共和国防洪法》": "法律法规",
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(_ context.Context, req model.Request) (*model.RawResponse, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	type item struct {
		Text  string `json:"text"`
		Label string `json:"label"`
	}
	items := []item{}
	for mention, label := range stubMentions {
		if strings.Contains(req.Prompt, mention) {
			items = append(items, item{Text: mention, Label: label})
		}
	}
	data, err := json.Marshal(map[string]any{"entities": items})
	if err != nil {
		return nil, err
	}
	return &model.RawResponse{Answer: string(data), Model: "stub-model"}, nil
}

// testEnv builds an environment around p, with a temp SQLite store when
// withStore is set.
func testEnv(t *testing.T, p *stubProvider, withStore bool) *annotateEnv {
	t.Helper()
	useTestConfig(t)

	catalog, err := taxonomy.LoadCatalog()
	require.NoError(t, err)

	opts := extract.DefaultOptions()
	opts.RetryCount = 0
	opts.ChunkTimeout = 0
	opts.DocumentBudget = 0

	env := &annotateEnv{
		Catalog:   catalog,
		Provider:  p,
		Extractor: extract.New(p, catalog, "flood", opts),
	}
	if withStore {
		st, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		env.Store = st
	}
	t.Cleanup(env.Close)
	return env
}
