package docsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/time/rate"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func createTestXLSX(t *testing.T, sheet string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	s, err := f.AddSheet(sheet)
	require.NoError(t, err)
	for _, rowData := range rows {
		row := s.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "docs.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoad_TextFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "防洪法.txt", "\ufeff第一条\r\n第二条")

	docs, err := Load(context.Background(), p, Options{Taxonomy: "flood"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "防洪法", docs[0].ID)
	assert.Equal(t, "第一条\n第二条", docs[0].Text)
	assert.Equal(t, "flood", docs[0].Taxonomy)
	assert.Equal(t, p, docs[0].Source)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.md", "乙")
	writeFile(t, dir, "a.txt", "甲")
	writeFile(t, dir, "empty.txt", "  \n")
	writeFile(t, dir, "skip.pdf", "binary")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	docs, err := Load(context.Background(), dir, Options{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
}

func TestLoad_CSV(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "docs.csv", "id,text,taxonomy\nd1,\"长江，黄河\",\nd2,森林火灾,forestfire\n,无编号,\n")

	docs, err := Load(context.Background(), p, Options{Taxonomy: "flood"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "长江，黄河", docs[0].Text)
	assert.Equal(t, "flood", docs[0].Taxonomy)
	assert.Equal(t, "forestfire", docs[1].Taxonomy)
	assert.Equal(t, "row-3", docs[2].ID)
}

func TestLoad_TSVCustomColumns(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "docs.tsv", "Name\tBody\nx\t长江\n")

	docs, err := Load(context.Background(), p, Options{IDColumn: "name", TextColumn: "BODY"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "x", docs[0].ID)
	assert.Equal(t, "长江", docs[0].Text)
}

func TestLoad_CSVMissingTextColumn(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "docs.csv", "id,content\n1,x\n2,y\n")

	_, err := Load(context.Background(), p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"text" column`)
}

func TestLoad_Limit(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "docs.csv", "id,text\n1,a\n2,b\n3,c\n")

	docs, err := Load(context.Background(), p, Options{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestLoad_JSONL(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "docs.jsonl", `{"id":"a","text":"长江"}
{"text":"黄河","taxonomy":"flood"}

{"id":"c","text":"淮河"}
`)

	docs, err := Load(context.Background(), p, Options{})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "row-2", docs[1].ID)
	assert.Equal(t, "flood", docs[1].Taxonomy)
	assert.Equal(t, "c", docs[2].ID)
}

func TestLoad_JSONArray(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "docs.json", ` [{"id":"a","text":"长江"},{"id":"b","text":"黄河"}]`)

	docs, err := Load(context.Background(), p, Options{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].ID)
}

func TestDecodeDocuments_Invalid(t *testing.T) {
	_, err := DecodeDocuments(context.Background(), strings.NewReader(`"just a string"`), "x")
	assert.Error(t, err)

	_, err = DecodeDocuments(context.Background(), strings.NewReader(`{"id":"a","text":`), "x")
	assert.Error(t, err)

	docs, err := DecodeDocuments(context.Background(), strings.NewReader("  "), "x")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoad_XLSX(t *testing.T) {
	p := createTestXLSX(t, "Docs", [][]string{
		{"ID", "Text"},
		{"x1", "长江防洪"},
		{"", "黄河"},
	})

	docs, err := Load(context.Background(), p, Options{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "x1", docs[0].ID)
	assert.Equal(t, "长江防洪", docs[0].Text)
	assert.Equal(t, "row-2", docs[1].ID)
}

func TestLoad_XLSXMissingSheet(t *testing.T) {
	p := createTestXLSX(t, "Docs", [][]string{{"id", "text"}})
	_, err := Load(context.Background(), p, Options{Sheet: "Other"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), Options{})
	assert.Error(t, err)
}

func TestHTTPSource_Fetch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "annotate-cli/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("第一条\r\n长江"))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPOptions{Limiter: rate.NewLimiter(rate.Inf, 1)})
	doc, err := src.Fetch(context.Background(), srv.URL+"/laws/flood.txt")
	require.NoError(t, err)
	assert.Equal(t, "flood", doc.ID)
	assert.Equal(t, "第一条\n长江", doc.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSource_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPOptions{Limiter: rate.NewLimiter(rate.Inf, 1)})
	_, err := src.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSource_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPOptions{MaxBytes: 10, Limiter: rate.NewLimiter(rate.Inf, 1)})
	_, err := src.Fetch(context.Background(), srv.URL+"/big")
	assert.ErrorContains(t, err, "exceeds")
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/a.txt"))
	assert.True(t, IsURL("http://example.com"))
	assert.False(t, IsURL("/tmp/a.txt"))
}

func TestReadTable_EmptyAndHeaderOnly(t *testing.T) {
	ctx := context.Background()

	docs, err := readTable(csvRows(ctx, strings.NewReader(""), ','), Options{}, "empty.csv")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = readTable(csvRows(ctx, strings.NewReader("id,text\n"), ','), Options{}, "header.csv")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCSVRows_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := readTable(csvRows(ctx, strings.NewReader("id,text\n1,长江\n"), ','), Options{}, "docs.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCSVRows_StopsWhenConsumerBreaks(t *testing.T) {
	var seen int
	for row, err := range csvRows(context.Background(), strings.NewReader("a\nb\nc\n"), ',') {
		require.NoError(t, err)
		seen++
		if row[0] == "b" {
			break
		}
	}
	assert.Equal(t, 2, seen)
}
