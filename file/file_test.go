package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"path/filepath"
	"syscall"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapFS() fstest.MapFS {
	return fstest.MapFS{
		"data/taxi_3.tbl":  {Data: []byte("1|SRID=4326;POINT(1 2)|2008-02-02 15:36:08\n")},
		"data/taxi_1.tbl":  {Data: []byte("1|SRID=4326;POINT(1 2)|2008-02-02 15:36:08\n2|SRID=4326;POINT(1 2)|2008-02-02 15:37:08\n")},
		"data/taxi_2.tbl":  {Data: []byte("")},
		"data/readme.txt":  {Data: []byte("ignored")},
		"data/sub/x_9.tbl": {Data: []byte("nested")},
	}
}

func TestEnumerate(t *testing.T) {
	e := &Enumerator{Transport: &FS{FS: mapFS()}, Dir: "data", Filter: Filter{Suffix: ".tbl"}, AvgRowBytes: 40}
	units, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 3)

	names := []string{units[0].Name, units[1].Name, units[2].Name}
	assert.Equal(t, []string{"taxi_1.tbl", "taxi_2.tbl", "taxi_3.tbl"}, names)
	for i, u := range units {
		assert.Equal(t, int64(i), u.Index)
	}
	assert.Equal(t, "data/taxi_1.tbl", units[0].Path)
	assert.Equal(t, int64(2), units[0].EstimatedRows)
	assert.Equal(t, int64(0), units[1].EstimatedRows)
	assert.Equal(t, int64(1), units[2].EstimatedRows)
}

func TestEnumerate_Pattern(t *testing.T) {
	e := &Enumerator{Transport: &FS{FS: mapFS()}, Dir: "data", Filter: Filter{Pattern: "taxi_[12].*"}}
	units, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "taxi_2.tbl", units[1].Name)

	e.Filter.Pattern = "["
	_, err = e.Enumerate(context.Background())
	assert.Error(t, err)
}

func TestEnumerate_MissingDir(t *testing.T) {
	e := &Enumerator{Transport: &FS{FS: mapFS()}, Dir: "nope"}
	_, err := e.Enumerate(context.Background())
	assert.Error(t, err)
}

func TestEnumerate_Empty(t *testing.T) {
	e := &Enumerator{Transport: &FS{FS: mapFS()}, Dir: "data", Filter: Filter{Suffix: ".csv"}}
	units, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestRemaining(t *testing.T) {
	units := []SourceUnit{{Index: 0}, {Index: 1}, {Index: 2}, {Index: 3}}
	rest := Remaining(units, func(i int64) bool { return i < 2 || i == 3 })
	require.Len(t, rest, 1)
	assert.Equal(t, int64(2), rest[0].Index)
	assert.Len(t, Remaining(units, nil), 4)
}

func TestFSConn_Open(t *testing.T) {
	conn, err := (&FS{FS: mapFS()}).Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	r, err := conn.Open(context.Background(), "/data/taxi_3.tbl")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Contains(t, string(b), "POINT(1 2)")

	_, err = conn.Open(context.Background(), "data/missing.tbl")
	assert.Error(t, err)
}

func TestParseLocation(t *testing.T) {
	cases := []struct {
		in   string
		want Location
	}{
		{"/var/data/taxi", Location{Scheme: LocalFileStorage, Dir: "/var/data/taxi"}},
		{"./rel", Location{Scheme: LocalFileStorage, Dir: "./rel"}},
		{"root@10.0.0.5:/root/taxi_data", Location{Scheme: SFTPFileStorage, User: "root", Host: "10.0.0.5", Dir: "/root/taxi_data"}},
		{"sftp://bob:pw@host:2222/srv/in", Location{Scheme: SFTPFileStorage, User: "bob", Password: "pw", Host: "host", Port: 2222, Dir: "/srv/in"}},
		{"ftp://anon@ftp.example.com", Location{Scheme: FTPFileStorage, User: "anon", Host: "ftp.example.com", Dir: "/"}},
		{"file:///tmp/in", Location{Scheme: LocalFileStorage, Dir: "/tmp/in"}},
	}
	for _, c := range cases {
		got, err := ParseLocation(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	for _, bad := range []string{"", "http://x/y", "sftp:///nohost", "ftp://h:port/x"} {
		_, err := ParseLocation(bad)
		assert.Error(t, err, bad)
	}
}

func TestLocation_Transport(t *testing.T) {
	loc, err := ParseLocation("sftp://bob@host/srv")
	require.NoError(t, err)
	tr, dir := loc.Transport(Credentials{Password: "secret", Insecure: true, ConnTimeout: time.Second})
	s, ok := tr.(*SFTP)
	require.True(t, ok)
	assert.Equal(t, "secret", s.Password)
	assert.True(t, s.Insecure)
	assert.Equal(t, "/srv", dir)
	assert.Equal(t, "sftp://bob@host:22", tr.String())

	loc, _ = ParseLocation("ftp://u:p@h:2121/in")
	tr, _ = loc.Transport(Credentials{Password: "other"})
	f, ok := tr.(*FTP)
	require.True(t, ok)
	assert.Equal(t, "p", f.Password)
	assert.Equal(t, 2121, f.Port)

	loc, _ = ParseLocation("/data")
	tr, dir = loc.Transport(Credentials{})
	_, ok = tr.(*FS)
	assert.True(t, ok)
	assert.Equal(t, ".", dir)
}

func TestIsConnLoss(t *testing.T) {
	lost := []error{
		sftp.ErrSSHFxConnectionLost,
		errors.Wrap(sftp.ErrSSHFxConnectionLost, "open data/taxi_1.tbl"),
		sftp.ErrSSHFxNoConnection,
		&textproto.Error{Code: ftp.StatusNotAvailable, Msg: "Service not available, closing control connection."},
		errors.Wrap(io.ErrUnexpectedEOF, "retr taxi_1.tbl"),
		fmt.Errorf("read: %w", net.ErrClosed),
		&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET},
	}
	for _, err := range lost {
		assert.True(t, IsConnLoss(err), "%v", err)
	}

	kept := []error{
		nil,
		errors.Wrap(fs.ErrNotExist, "open data/taxi_1.tbl"),
		sftp.ErrSSHFxPermissionDenied,
		&textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file or directory."},
		errors.New("no valid rows"),
	}
	for _, err := range kept {
		assert.False(t, IsConnLoss(err), "%v", err)
	}
}

func TestSFTP_ConnectClosesAgentOnFailure(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "agent.sock")
	agentLn, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer agentLn.Close()
	t.Setenv("SSH_AUTH_SOCK", sock)

	// a port nobody listens on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	tr := &SFTP{Host: "127.0.0.1", Port: port, User: "gis", Insecure: true, ConnTimeout: time.Second}
	_, err = tr.Connect(context.Background())
	require.Error(t, err)

	server, err := agentLn.Accept()
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = server.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
