package exporter

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/adapter/filesystem"
	"github.com/vertextoedge/dupecache/internal/adapter/sqlite"
	"github.com/vertextoedge/dupecache/internal/domain"
)

func setup(t *testing.T, mem afero.Fs) *Service {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	fs := filesystem.NewManager(mem)

	cache, err := sqlite.OpenHashCache(filepath.Join(dir, "cache.db"), sqlite.HashCacheOptions{Options: sqlite.DefaultOptions()})
	if err != nil {
		t.Fatalf("OpenHashCache() error = %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	history, err := sqlite.OpenHistory(filepath.Join(dir, "history.db"), sqlite.DefaultOptions())
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	t.Cleanup(func() { history.Close() })

	cache.Store(ctx, domain.NewFileIdentity("/a", 1, time.Unix(100, 0)), domain.AlgorithmSHA256, "aa")
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3"} {
		history.RecordScan(ctx, &domain.ScanRecord{
			ID:             id,
			StartedAt:      base.Add(time.Duration(i) * time.Hour),
			FinishedAt:     base.Add(time.Duration(i)*time.Hour + time.Minute),
			Algorithm:      domain.AlgorithmSHA256,
			FilesProcessed: int64(10 * (i + 1)),
			GroupsFound:    1,
			DuplicateFiles: 2,
			Status:         domain.ScanStatusComplete,
		})
	}

	svc := New(cache, history, fs, "1.2.3", zap.NewNop())
	svc.now = func() time.Time { return base.Add(24 * time.Hour) }
	return svc
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}

	if FormatForPath("/out/report.YML", FormatJSON) != FormatYAML {
		t.Error("FormatForPath should use the extension")
	}
	if FormatForPath("/out/report", FormatYAML) != FormatYAML {
		t.Error("FormatForPath should fall back")
	}
}

func TestService_Build(t *testing.T) {
	svc := setup(t, afero.NewMemMapFs())

	doc, err := svc.Build(context.Background(), Scope{ScanLimit: 2}, map[string]any{"host": "nas"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if doc.SchemaVersion != SchemaVersion || doc.CoreVersion != "1.2.3" {
		t.Errorf("header = %d, %q", doc.SchemaVersion, doc.CoreVersion)
	}
	if len(doc.Scans) != 2 || doc.Scans[0].ID != "s2" || doc.Scans[1].ID != "s3" {
		t.Errorf("scans = %+v, want s2 and s3", doc.Scans)
	}
	if doc.Scans[1].FilesProcessed != 30 || doc.Scans[1].DuplicatesFound != 2 {
		t.Errorf("scan summary = %+v", doc.Scans[1])
	}
	if doc.Cache.EntryCount != 1 || doc.Cache.ApproxSizeBytes <= 0 {
		t.Errorf("cache = %+v", doc.Cache)
	}
	if doc.Aggregate == nil || doc.Aggregate.TotalScans != 3 {
		t.Errorf("aggregate = %+v", doc.Aggregate)
	}
	if doc.Environment["host"] != "nas" {
		t.Errorf("environment = %v", doc.Environment)
	}

	all, _ := svc.Build(context.Background(), Scope{}, nil)
	if len(all.Scans) != 3 || all.Environment == nil {
		t.Errorf("unbounded scope = %d scans, env %v", len(all.Scans), all.Environment)
	}
}

func TestService_ExportRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			mem := afero.NewMemMapFs()
			svc := setup(t, mem)
			dest := "/exports/report." + string(format)

			written, err := svc.Export(context.Background(), Scope{}, map[string]any{"app": "dupecache"}, dest, format)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}

			f, err := mem.Open(dest)
			if err != nil {
				t.Fatalf("export not written: %v", err)
			}
			defer f.Close()

			got, err := Decode(f, format)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !got.ExportedAt.Equal(written.ExportedAt) || got.CoreVersion != written.CoreVersion {
				t.Errorf("header = %v %q", got.ExportedAt, got.CoreVersion)
			}
			if len(got.Scans) != 3 || !got.Scans[0].StartedAt.Equal(written.Scans[0].StartedAt) {
				t.Errorf("scans = %+v", got.Scans)
			}
			if got.Cache != written.Cache || got.Aggregate.TotalScans != 3 {
				t.Errorf("cache = %+v, aggregate = %+v", got.Cache, got.Aggregate)
			}
			if got.Environment["app"] != "dupecache" {
				t.Errorf("environment = %v", got.Environment)
			}

			entries, _ := afero.ReadDir(mem, "/exports")
			if len(entries) != 1 {
				t.Errorf("export dir has %d entries, want only the document", len(entries))
			}
		})
	}
}

func TestService_ExportFailureLeavesNoFile(t *testing.T) {
	mem := afero.NewMemMapFs()
	svc := setup(t, afero.NewReadOnlyFs(mem))

	if _, err := svc.Export(context.Background(), Scope{}, nil, "/out/report.json", FormatJSON); err == nil {
		t.Fatal("Export() to a read-only fs should fail")
	}
	if ok, _ := afero.Exists(mem, "/out/report.json"); ok {
		t.Error("a failed export must not leave a document behind")
	}

	if _, err := svc.Export(context.Background(), Scope{}, nil, "/x", "xml"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown format error = %v", err)
	}
}

func TestDecode_RejectsUnknownSchema(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"future version", `{"schema_version": 99}`},
		{"missing version", `{"core_version": "1.0"}`},
		{"malformed", `{"schema_version":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tt.body), FormatJSON); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Decode() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestEncode_JSONIsStable(t *testing.T) {
	doc := &Document{SchemaVersion: SchemaVersion, Scans: []ScanSummary{}, Environment: map[string]any{}}
	var a, b bytes.Buffer
	Encode(&a, doc, FormatJSON)
	Encode(&b, doc, FormatJSON)
	if a.String() != b.String() || !strings.Contains(a.String(), `"schema_version": 1`) {
		t.Errorf("encoded = %s", a.String())
	}
}
