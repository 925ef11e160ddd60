package file

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strings"
	"syscall"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
)

const (
	LocalFileStorage = "local"
	FTPFileStorage   = "ftp"
	SFTPFileStorage  = "sftp"
)

// Transport gives access to a location holding source files.
type Transport interface {
	// Connect opens one transport session. The session is owned by a single lane.
	Connect(ctx context.Context) (Conn, error)
	String() string
}

// Conn is one transport session. It is not safe for concurrent use: the remote
// transports multiplex a single channel, so a Conn must never be shared across lanes.
type Conn interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Close() error
}

// IsConnLoss reports whether err means the transport session is gone and has
// to be re-established. Errors about a single file, such as a missing path,
// are not connection loss.
func IsConnLoss(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		// 421: service not available, closing control connection
		return tpErr.Code == ftp.StatusNotAvailable
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Entry is one listed directory entry.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// SourceUnit is one file to ingest. It is immutable once enumerated.
type SourceUnit struct {
	// Name is the base file name, Path the name to pass to Conn.Open.
	Name string
	Path string
	// Index is the ordinal of the unit in the full sorted enumeration.
	Index         int64
	Size          int64
	EstimatedRows int64
	Origin        string
}

func (u SourceUnit) String() string {
	return fmt.Sprintf("%s#%d", u.Name, u.Index)
}

// Filter selects which directory entries are source units.
type Filter struct {
	// Suffix keeps names ending with it, e.g. ".tbl". Empty keeps all.
	Suffix string
	// Pattern is an optional path.Match glob applied to the base name.
	Pattern string
}

// Match reports whether the base name passes the filter.
func (f Filter) Match(name string) (bool, error) {
	if f.Suffix != "" && !strings.HasSuffix(name, f.Suffix) {
		return false, nil
	}
	if f.Pattern != "" {
		return path.Match(f.Pattern, name)
	}
	return true, nil
}

func joinPath(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return path.Join(dir, name)
}
