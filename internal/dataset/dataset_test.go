package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSplitReports(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"blank line blocks", "first report\nsecond line\n\n\nsecond report\n", []string{"first report\nsecond line", "second report"}},
		{"single block falls back to lines", "one\ntwo\n  \nthree", []string{"one", "two", "three"}},
		{"one line per report", "a\nb\nc\n", []string{"a", "b", "c"}},
		{"crlf", "a\r\n\r\nb", []string{"a", "b"}},
		{"empty", "  \n", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitReports(tt.content))
		})
	}
}

func TestLoadReports(t *testing.T) {
	path := writeFile(t, "reports.txt", "The heart is normal.\n\nLungs are clear.")
	got, err := LoadReports(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"The heart is normal.", "Lungs are clear."}, got)

	_, err = LoadReports(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadAnnotation(t *testing.T) {
	path := writeFile(t, "annotation.json", `{
  "train": [
    {"id": "CXR1", "report": "r1", "image_path": ["CXR1/0.png", "CXR1/1.png"]},
    {"id": "CXR2", "report": "r2", "image_path": ["CXR2/0.png"]}
  ],
  "val": [{"image_path": ["ignored.png"]}]
}`)

	got, err := LoadAnnotation(path, "images")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"doc_1": {filepath.Join("images", "CXR1/0.png"), filepath.Join("images", "CXR1/1.png")},
		"doc_2": {filepath.Join("images", "CXR2/0.png")},
	}, got)

	bad := writeFile(t, "bad.json", "{")
	_, err = LoadAnnotation(bad, "images")
	assert.Error(t, err)
}

func TestLoadImageMapping(t *testing.T) {
	path := writeFile(t, "mapping.json", `{"doc_1": ["a.png", "b.png"], "doc_3": []}`)
	got, err := LoadImageMapping(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, got["doc_1"])
	assert.Empty(t, got["doc_3"])

	empty := writeFile(t, "null.json", "null")
	got, err = LoadImageMapping(empty)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
