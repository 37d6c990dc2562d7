package docsource

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/annotate-cli/internal/model"
)

// rowMapper turns header-addressed rows into documents.
type rowMapper struct {
	id, text, taxonomy int
	source             string
}

func newRowMapper(header []string, opts Options, source string) (*rowMapper, error) {
	idCol, textCol := opts.columns()
	m := &rowMapper{id: -1, text: -1, taxonomy: -1, source: source}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case idCol:
			m.id = i
		case textCol:
			m.text = i
		case "taxonomy":
			m.taxonomy = i
		}
	}
	if m.text < 0 {
		return nil, eris.Errorf("docsource: %s has no %q column", source, textCol)
	}
	return m, nil
}

// document maps row n (1-based, header excluded). Rows without an id get
// one derived from the row number.
func (m *rowMapper) document(row []string, n int) model.Document {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}
	id := strings.TrimSpace(cell(m.id))
	if id == "" {
		id = fmt.Sprintf("row-%d", n)
	}
	return model.Document{
		ID:       id,
		Text:     normalizeText(cell(m.text)),
		Taxonomy: strings.TrimSpace(cell(m.taxonomy)),
		Source:   m.source,
	}
}

// tableRows yields the rows of a tabular source, header first. A non-nil
// error ends the sequence.
type tableRows = iter.Seq2[[]string, error]

// readTable maps a header row and the data rows below it to documents. An
// empty table yields no documents.
func readTable(rows tableRows, opts Options, source string) ([]model.Document, error) {
	var (
		mapper *rowMapper
		docs   []model.Document
	)
	for row, err := range rows {
		if err != nil {
			return nil, err
		}
		if mapper == nil {
			if mapper, err = newRowMapper(row, opts, source); err != nil {
				return nil, err
			}
			continue
		}
		docs = append(docs, mapper.document(row, len(docs)+1))
	}
	return docs, nil
}

// csvRows reads delimiter-separated records lazily. Quoting is lenient and
// rows may differ in width.
func csvRows(ctx context.Context, r io.Reader, comma rune) tableRows {
	return func(yield func([]string, error) bool) {
		cr := csv.NewReader(r)
		cr.Comma = comma
		cr.LazyQuotes = true
		cr.FieldsPerRecord = -1

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, eris.Wrap(err, "csv: context cancelled"))
				return
			}
			record, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				line, _ := cr.FieldPos(0)
				yield(nil, eris.Wrapf(err, "csv: read line %d", line))
				return
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}

func loadCSVFile(ctx context.Context, path string, comma rune, opts Options) ([]model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "docsource: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return readTable(csvRows(ctx, f, comma), opts, path)
}

// sheetRows yields each worksheet row as cell strings.
func sheetRows(sheet *xlsx.Sheet) tableRows {
	return func(yield func([]string, error) bool) {
		for _, row := range sheet.Rows {
			cells := make([]string, len(row.Cells))
			for i, c := range row.Cells {
				cells[i] = c.String()
			}
			if !yield(cells, nil) {
				return
			}
		}
	}
}

// LoadXLSX reads documents from opts.Sheet, or the first sheet, of an xlsx
// workbook.
func LoadXLSX(path string, opts Options) ([]model.Document, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	var sheet *xlsx.Sheet
	switch {
	case opts.Sheet != "":
		var ok bool
		if sheet, ok = wb.Sheet[opts.Sheet]; !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found in %s", opts.Sheet, path)
		}
	case len(wb.Sheets) > 0:
		sheet = wb.Sheets[0]
	default:
		return nil, eris.Errorf("xlsx: %s has no sheets", path)
	}
	return readTable(sheetRows(sheet), opts, path)
}

// DecodeDocuments reads documents from either a JSON array or a stream of
// JSON objects (JSON Lines).
func DecodeDocuments(ctx context.Context, r io.Reader, source string) ([]model.Document, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "json: peek")
	}

	decoder := json.NewDecoder(br)
	var docs []model.Document
	next := func() error {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "json: context cancelled")
		}
		var d model.Document
		if err := decoder.Decode(&d); err != nil {
			return eris.Wrapf(err, "json: decode document %d", len(docs)+1)
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("row-%d", len(docs)+1)
		}
		d.Text = normalizeText(d.Text)
		d.Source = source
		docs = append(docs, d)
		return nil
	}

	switch first {
	case '[':
		if _, err := decoder.Token(); err != nil {
			return nil, eris.Wrap(err, "json: read opening token")
		}
		for decoder.More() {
			if err := next(); err != nil {
				return nil, err
			}
		}
		if _, err := decoder.Token(); err != nil && err != io.EOF {
			return nil, eris.Wrap(err, "json: read closing token")
		}
	case '{':
		for decoder.More() {
			if err := next(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, eris.Errorf("json: expected '[' or '{', got %q", first)
	}
	return docs, nil
}

// peekNonSpace skips leading whitespace and returns the next byte without
// consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		return b, br.UnreadByte()
	}
}

func loadJSONFile(ctx context.Context, path string) ([]model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "docsource: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return DecodeDocuments(ctx, f, path)
}
