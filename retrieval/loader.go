package retrieval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"decisiondesk-backend/models"

	"go.uber.org/zap"
)

// PolicyExtensions are the file types LoadDirectory reads
var PolicyExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".json":     true,
}

// LoadDirectory reads every policy file under dir, recursively. Documents are
// named by their path relative to dir. Unreadable or empty files are logged
// and skipped.
func LoadDirectory(dir string, logger *zap.Logger) ([]models.PolicyDocument, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("policy directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy directory: %s is not a directory", dir)
	}

	var docs []models.PolicyDocument
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !PolicyExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = d.Name()
		}
		rel = filepath.ToSlash(rel)

		text, err := ReadPolicyFile(path)
		if err != nil {
			logger.Warn("skipping policy file", zap.String("file", rel), zap.Error(err))
			return nil
		}
		if strings.TrimSpace(text) == "" {
			logger.Warn("skipping empty policy file", zap.String("file", rel))
			return nil
		}
		docs = append(docs, models.PolicyDocument{Name: rel, Text: text})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return docs, nil
}

// ReadPolicyFile returns the plain text of one policy file. JSON files are
// flattened to their scalar values, object keys in sorted order.
func ReadPolicyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return strings.TrimSpace(string(data)), nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("invalid JSON policy: %w", err)
	}
	var parts []string
	flattenJSON(v, &parts)
	return strings.Join(parts, " "), nil
}

func flattenJSON(v any, out *[]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(t[k], out)
		}
	case []any:
		for _, item := range t {
			flattenJSON(item, out)
		}
	case nil:
	case string:
		if s := strings.TrimSpace(t); s != "" {
			*out = append(*out, s)
		}
	default:
		*out = append(*out, fmt.Sprint(t))
	}
}
