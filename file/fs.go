package file

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// FS is a Transport over an io/fs file system. Local directories use Local.
type FS struct {
	FS   fs.FS
	Name string
}

// Local returns a transport rooted at the given local directory; listed paths are relative to it.
func Local(root string) *FS {
	return &FS{FS: os.DirFS(root), Name: root}
}

func (t *FS) String() string {
	if t.Name == "" {
		return LocalFileStorage + "://"
	}
	return LocalFileStorage + "://" + t.Name
}

func (t *FS) Connect(ctx context.Context) (Conn, error) {
	if t.FS == nil {
		return nil, errors.New("file system is nil")
	}
	return &fsConn{fsys: t.FS}, nil
}

type fsConn struct {
	fsys fs.FS
}

func clean(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		return "."
	}
	return name
}

func (c *fsConn) List(ctx context.Context, dir string) ([]Entry, error) {
	entries, err := fs.ReadDir(c.fsys, clean(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		entry := Entry{Name: e.Name(), IsDir: e.IsDir()}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		result = append(result, entry)
	}
	return result, nil
}

func (c *fsConn) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := c.fsys.Open(clean(name))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	return f, nil
}

func (c *fsConn) Close() error {
	return nil
}
