package mapping

import (
	"context"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/garnizeh/techsync/pkg/models"
	"github.com/qri-io/jsonschema"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

const (
	colTechnician = "technician_name"
	colEmail      = "remote_email"
	colAccountID  = "remote_account_id"
)

var requiredColumns = []string{colTechnician, colEmail, colAccountID}

//go:embed schema.json
var documentSchema []byte

// FormatFromPath picks the source format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported mapping file extension %q", filepath.Ext(path))
}

// LoadFile reads and parses the mapping file at path.
func LoadFile(path string) (*Table, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	defer f.Close()

	t, err := Load(f, format)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.Source == "" {
			ce.Source = path
		}
		return nil, err
	}
	t.source = path
	return t, nil
}

// FileLoader returns a Loader reading path on every call.
func FileLoader(path string) Loader {
	return func(ctx context.Context) (*Table, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return LoadFile(path)
	}
}

// Load parses a mapping source. It fails only with *ConfigError.
func Load(r io.Reader, format Format) (*Table, error) {
	switch format {
	case FormatCSV:
		rows, err := decodeCSV(r)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		return build(rows, ""), nil
	case FormatYAML, FormatJSON:
		rows, err := decodeDocument(r)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		return build(rows, ""), nil
	}
	return nil, &ConfigError{Err: fmt.Errorf("unsupported format %q", format)}
}

func decodeCSV(r io.Reader) ([]rawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty source: missing header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []rawRow
	for n := 1; ; n++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", n, err)
		}
		field := func(col string) string {
			i := index[col]
			if i < len(rec) {
				return rec[i]
			}
			return ""
		}
		rows = append(rows, rawRow{row: n, mapping: models.TechnicianMapping{
			TechnicianName:  field(colTechnician),
			RemoteEmail:     field(colEmail),
			RemoteAccountID: field(colAccountID),
		}})
	}
	return rows, nil
}

// columnIndex requires the header to be exactly the mapping column set, in any order.
func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		index[name] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	if len(index) != len(requiredColumns) {
		var extra []string
		for name := range index {
			if name != colTechnician && name != colEmail && name != colAccountID {
				extra = append(extra, name)
			}
		}
		return nil, fmt.Errorf("unexpected columns: %s", strings.Join(extra, ", "))
	}
	return index, nil
}

type document struct {
	Technicians []models.TechnicianMapping `yaml:"technicians"`
}

// decodeDocument parses a YAML or JSON mapping document after checking its
// structure against the embedded schema.
func decodeDocument(r io.Reader) ([]rawRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}

	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(documentSchema, schema); err != nil {
		return nil, fmt.Errorf("compile mapping schema: %w", err)
	}
	verrs, err := schema.ValidateBytes(context.Background(), asJSON)
	if err != nil {
		return nil, fmt.Errorf("validate document: %w", err)
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for _, v := range verrs {
			sb.WriteString(v.PropertyPath)
			sb.WriteString(": ")
			sb.WriteString(v.Message)
			sb.WriteString("; ")
		}
		return nil, fmt.Errorf("document does not match schema: %s", sb.String())
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	rows := make([]rawRow, 0, len(doc.Technicians))
	for i, m := range doc.Technicians {
		rows = append(rows, rawRow{row: i + 1, mapping: m})
	}
	return rows, nil
}
