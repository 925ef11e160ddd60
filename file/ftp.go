package file

import (
	"context"
	"fmt"
	"io"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
)

// FTP reads source files from an FTP server.
type FTP struct {
	Host        string
	Port        int
	User        string
	Password    string
	ConnTimeout time.Duration
}

func (t *FTP) String() string {
	return fmt.Sprintf("%s://%s@%s:%d", FTPFileStorage, t.User, t.Host, t.port())
}

func (t *FTP) port() int {
	if t.Port == 0 {
		return 21
	}
	return t.Port
}

func (t *FTP) Connect(ctx context.Context) (Conn, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if t.ConnTimeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(t.ConnTimeout))
	}
	c, err := ftp.Dial(fmt.Sprintf("%s:%d", t.Host, t.port()), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %v", t)
	}
	user := t.User
	if user == "" {
		user = "anonymous"
	}
	if err = c.Login(user, t.Password); err != nil {
		c.Quit()
		return nil, errors.Wrapf(err, "login %v", t)
	}
	return &ftpConn{c: c}, nil
}

type ftpConn struct {
	c *ftp.ServerConn
}

func (c *ftpConn) List(ctx context.Context, dir string) ([]Entry, error) {
	entries, err := c.c.List(dir)
	if err != nil {
		if e, ok := err.(*textproto.Error); ok && e.Code == ftp.StatusFileUnavailable {
			return nil, errors.Errorf("list %s: no such directory", dir)
		}
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		result = append(result, Entry{
			Name:  e.Name,
			Size:  int64(e.Size),
			IsDir: e.Type == ftp.EntryTypeFolder,
		})
	}
	return result, nil
}

// Open starts a RETR. The returned reader must be closed before the next command on this Conn.
func (c *ftpConn) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := c.c.Retr(name)
	if err != nil {
		return nil, errors.Wrapf(err, "retr %s", name)
	}
	return r, nil
}

func (c *ftpConn) Close() error {
	return c.c.Quit()
}
