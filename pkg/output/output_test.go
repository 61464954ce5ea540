package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "5.json", DefaultPath(idrange.Single(5)))
	assert.Equal(t, "100-104.json", DefaultPath(idrange.Range{Start: 100, End: 104}))
}

func TestEncode_Indented(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Encode(buf, []any{map[string]int{"id": 1}, "Stop at 2, keyboard interrupt"}))
	assert.Equal(t, "[\n  {\n    \"id\": 1\n  },\n  \"Stop at 2, keyboard interrupt\"\n]\n", buf.String())
}

func TestWriteFile_CreatesDirAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, WriteFile(path, []int{1, 2}))
	require.NoError(t, WriteFile(path, []int{3}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[3]`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestWriteFile_EncodeErrorLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	err := WriteFile(path, make(chan int))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWrite_Stdout(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Write(Stdout, buf, []string{"a"}))
	assert.Equal(t, "[\n  \"a\"\n]\n", buf.String())
}
