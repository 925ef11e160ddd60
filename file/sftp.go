package file

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTP reads source files over an ssh connection.
//
// Authentication uses Password when set, then KeyFile, then the ssh agent at
// $SSH_AUTH_SOCK. Host keys are verified against KnownHosts (default
// ~/.ssh/known_hosts) unless Insecure is set.
type SFTP struct {
	Host        string
	Port        int
	User        string
	Password    string
	KeyFile     string
	KnownHosts  string
	Insecure    bool
	ConnTimeout time.Duration
}

func (t *SFTP) String() string {
	return fmt.Sprintf("%s://%s@%s", SFTPFileStorage, t.User, t.addr())
}

func (t *SFTP) addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, fmt.Sprint(port))
}

// authMethods returns the auth methods to try and, when the ssh agent is used,
// the agent connection. The caller closes it once the ssh connection is done.
func (t *SFTP) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	var methods []ssh.AuthMethod
	if t.Password != "" {
		methods = append(methods, ssh.Password(t.Password))
	}
	if t.KeyFile != "" {
		key, err := os.ReadFile(expandHome(t.KeyFile))
		if err != nil {
			return nil, nil, errors.Wrap(err, "read key file")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse key file")
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if len(methods) > 0 {
		return methods, nil, nil
	}
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, errors.New("no password, key file or ssh agent available")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial ssh agent")
	}
	methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	return methods, conn, nil
}

func (t *SFTP) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if t.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := t.KnownHosts
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, errors.Wrap(err, "load known hosts")
	}
	return cb, nil
}

func (t *SFTP) Connect(ctx context.Context) (Conn, error) {
	username := t.User
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return nil, err
		}
		username = u.Username
	}
	auth, agentConn, err := t.authMethods()
	if err != nil {
		return nil, err
	}
	conn := &sftpConn{agent: agentConn}
	defer func() {
		if conn.c == nil {
			conn.closeAgent()
		}
	}()
	hostKey, err := t.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         t.ConnTimeout,
	}

	dialer := net.Dialer{Timeout: t.ConnTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, errors.Wrapf(err, "dial %v", t)
	}
	sc, chans, reqs, err := ssh.NewClientConn(nc, t.addr(), config)
	if err != nil {
		nc.Close()
		return nil, errors.Wrapf(err, "ssh handshake %v", t)
	}
	client := ssh.NewClient(sc, chans, reqs)
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "start sftp subsystem %v", t)
	}
	conn.ssh, conn.c = client, sftpClient
	return conn, nil
}

type sftpConn struct {
	ssh   *ssh.Client
	c     *sftp.Client
	agent io.Closer
}

func (c *sftpConn) List(ctx context.Context, dir string) ([]Entry, error) {
	infos, err := c.c.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	result := make([]Entry, 0, len(infos))
	for _, info := range infos {
		result = append(result, Entry{Name: info.Name(), Size: info.Size(), IsDir: info.IsDir()})
	}
	return result, nil
}

func (c *sftpConn) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := c.c.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	return f, nil
}

func (c *sftpConn) Close() error {
	err := c.c.Close()
	if e := c.ssh.Close(); err == nil {
		err = e
	}
	c.closeAgent()
	return err
}

func (c *sftpConn) closeAgent() {
	if c.agent != nil {
		c.agent.Close()
		c.agent = nil
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
