// Package output writes the result document of a run.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Sternrassler/post-fetcher/pkg/idrange"
	"github.com/goccy/go-json"
)

// Stdout is the path that selects standard output instead of a file.
const Stdout = "-"

const (
	filePerm = 0o644
	dirPerm  = 0o755
	bufSize  = 64 * 1024
)

// DefaultPath returns the file name used when no path is given:
// "5.json" for a single ID, "100-104.json" for a range.
func DefaultPath(r idrange.Range) string {
	return r.String() + ".json"
}

// Encode writes v to w as indented JSON followed by a newline.
func Encode(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// WriteFile encodes v into path. The document is written to a temporary
// file in the same directory and renamed into place, so readers never see
// a partial file.
func WriteFile(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, filePerm)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	bw := bufio.NewWriterSize(tmp, bufSize)
	if err := Encode(bw, v); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("write output: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync output: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace output: %w", err)
	}

	// Best effort: persist the rename.
	_ = syncDir(dir)
	return nil
}

// Write sends v to stdout when path is Stdout and to the file otherwise.
func Write(path string, stdout io.Writer, v any) error {
	if path == Stdout {
		return Encode(stdout, v)
	}
	return WriteFile(path, v)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
