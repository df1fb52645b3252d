package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"quantix/internal/schema"
)

// Segments lists the WAL segment files of dir with the given prefix, in name
// order, which is record order.
func Segments(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix += "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".wal") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Cursor reads records across every segment of a directory. It is not safe for
// concurrent use.
type Cursor struct {
	files []string
	opts  ReaderOptions
	idx   int
	file  *os.File
	r     *Reader
}

// OpenCursor positions a cursor before the first record in dir.
func OpenCursor(dir, prefix string, opts ReaderOptions) (*Cursor, error) {
	files, err := Segments(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &Cursor{files: files, opts: opts}, nil
}

// Next returns the next record, or io.EOF after the last segment. The payload
// is only valid until the next call.
func (c *Cursor) Next() (schema.EventHeader, []byte, error) {
	for {
		if c.r == nil {
			if c.idx >= len(c.files) {
				return schema.EventHeader{}, nil, io.EOF
			}
			file, err := os.Open(c.files[c.idx])
			if err != nil {
				return schema.EventHeader{}, nil, err
			}
			c.file = file
			c.r = NewReader(file, c.opts)
		}

		header, payload, err := c.r.Next()
		if err == nil {
			return header, payload, nil
		}
		path := c.files[c.idx]
		if errors.Is(err, io.ErrUnexpectedEOF) && c.opts.AllowTruncatedTail && c.idx == len(c.files)-1 {
			err = io.EOF
		}
		if cerr := c.closeFile(); cerr != nil && err == io.EOF {
			err = cerr
		}
		if err != io.EOF {
			return header, nil, fmt.Errorf("read %s: %w", path, err)
		}
		c.idx++
	}
}

// Close releases the open segment.
func (c *Cursor) Close() error {
	c.idx = len(c.files)
	return c.closeFile()
}

func (c *Cursor) closeFile() error {
	c.r = nil
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
