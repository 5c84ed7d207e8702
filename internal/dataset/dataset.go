// Package dataset reads the prepared IU X-Ray inputs: the report file and
// the document to image mapping.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadReports reads one report per blank-line separated block. Files with
// fewer than two blocks are read one report per line.
func LoadReports(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}
	return SplitReports(string(data)), nil
}

// SplitReports applies the LoadReports splitting rules to content.
func SplitReports(content string) []string {
	content = strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
	parts := nonEmpty(strings.Split(content, "\n\n"))
	if len(parts) < 2 {
		parts = nonEmpty(strings.Split(content, "\n"))
	}
	return parts
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type annotation struct {
	Train []struct {
		ImagePath []string `json:"image_path"`
	} `json:"train"`
}

// LoadAnnotation maps the n-th entry of the annotation "train" split to
// doc_<n+1>, joining each image path with imageDir.
func LoadAnnotation(path, imageDir string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotation: %w", err)
	}
	var ann annotation
	if err := json.Unmarshal(data, &ann); err != nil {
		return nil, fmt.Errorf("failed to decode annotation: %w", err)
	}

	mapping := make(map[string][]string, len(ann.Train))
	for i, item := range ann.Train {
		paths := make([]string, len(item.ImagePath))
		for j, p := range item.ImagePath {
			paths[j] = filepath.Join(imageDir, p)
		}
		mapping[fmt.Sprintf("doc_%d", i+1)] = paths
	}
	return mapping, nil
}

// LoadImageMapping reads a prepared {"doc_id": ["path", ...]} file.
func LoadImageMapping(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image mapping: %w", err)
	}
	var mapping map[string][]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("failed to decode image mapping: %w", err)
	}
	if mapping == nil {
		mapping = map[string][]string{}
	}
	return mapping, nil
}
