package adapters

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/miradorstack/mirador-osint/internal/extractors"
	"github.com/miradorstack/mirador-osint/internal/models"
)

// Fields describing the scanned copy rather than the original file.
var exifNoise = map[string]struct{}{
	"SourceFile": {}, "FileName": {}, "Directory": {}, "FileSize": {},
	"FileModifyDate": {}, "FileAccessDate": {}, "FileInodeChangeDate": {},
	"FilePermissions": {}, "ExifToolVersion": {},
}

// Exiftool extracts embedded metadata from a file. It never needs the network.
type Exiftool struct {
	base
}

func (a *Exiftool) Execute(ctx context.Context, runner Runner, target string, opts map[string]string) models.ExecutionResult {
	return a.invoke(ctx, runner, models.TargetFile, target, opts, func(string) []string {
		return []string{"-j", models.InputPlaceholder}
	})
}

// ParseResults reads the first element of exiftool's JSON array and emits one
// metadata_field finding per field, ordered by field name.
func (a *Exiftool) ParseResults(raw []byte) ([]models.Finding, error) {
	var docs []map[string]any
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, a.parseError(0, "invalid JSON: "+err.Error())
	}
	if len(docs) == 0 {
		return nil, nil
	}

	fields := extractors.Flatten(docs[0])
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, skip := exifNoise[k]; skip || fields[k] == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.Finding, 0, len(keys))
	for _, k := range keys {
		f := a.finding(models.KindMetadataField, k+": "+fields[k], 0.9)
		f.RawMetadata = map[string]string{"field": k, "value": fields[k]}
		out = append(out, f)
	}
	return out, nil
}
