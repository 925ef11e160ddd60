package file

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Location is a parsed source location.
type Location struct {
	Scheme   string
	Host     string
	Port     int
	User     string
	Password string
	Dir      string
}

// Credentials supplement a Location when building a remote transport.
// A password embedded in the location wins over Credentials.Password.
type Credentials struct {
	Password    string
	KeyFile     string
	KnownHosts  string
	Insecure    bool
	ConnTimeout time.Duration
}

// ParseLocation accepts a local path, an scp style "user@host:/dir" (sftp),
// or a "sftp://" or "ftp://" url.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, errors.New("empty location")
	}
	if strings.Contains(s, "://") {
		return parseURL(s)
	}
	if at := strings.Index(s, "@"); at > 0 {
		colon := strings.Index(s[at:], ":")
		if colon > 0 {
			colon += at
			dir := s[colon+1:]
			if dir == "" {
				dir = "."
			}
			return Location{
				Scheme: SFTPFileStorage,
				User:   s[:at],
				Host:   s[at+1 : colon],
				Dir:    dir,
			}, nil
		}
	}
	return Location{Scheme: LocalFileStorage, Dir: s}, nil
}

func parseURL(s string) (Location, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Location{}, errors.Wrap(err, "parse location")
	}
	loc := Location{Scheme: strings.ToLower(u.Scheme), Host: u.Hostname(), Dir: u.Path}
	switch loc.Scheme {
	case SFTPFileStorage, FTPFileStorage:
	case "file", LocalFileStorage:
		loc.Scheme = LocalFileStorage
		if u.Host != "" {
			loc.Dir = u.Host + u.Path
		}
		return loc, nil
	default:
		return Location{}, errors.Errorf("unsupported location scheme: %s", u.Scheme)
	}
	if loc.Host == "" {
		return Location{}, errors.Errorf("location %s has no host", s)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Location{}, errors.Wrapf(err, "invalid port in %s", s)
		}
		loc.Port = port
	}
	if u.User != nil {
		loc.User = u.User.Username()
		loc.Password, _ = u.User.Password()
	}
	if loc.Dir == "" {
		loc.Dir = "/"
	}
	return loc, nil
}

func (l Location) String() string {
	if l.Scheme == LocalFileStorage {
		return l.Dir
	}
	host := l.Host
	if l.Port > 0 {
		host = fmt.Sprintf("%s:%d", l.Host, l.Port)
	}
	if l.User != "" {
		host = l.User + "@" + host
	}
	return fmt.Sprintf("%s://%s%s", l.Scheme, host, l.Dir)
}

// Transport builds the transport for this location. Local locations are rooted
// at Dir, so their enumeration directory is ".".
func (l Location) Transport(cred Credentials) (Transport, string) {
	password := l.Password
	if password == "" {
		password = cred.Password
	}
	switch l.Scheme {
	case FTPFileStorage:
		return &FTP{Host: l.Host, Port: l.Port, User: l.User, Password: password, ConnTimeout: cred.ConnTimeout}, l.Dir
	case SFTPFileStorage:
		return &SFTP{
			Host:        l.Host,
			Port:        l.Port,
			User:        l.User,
			Password:    password,
			KeyFile:     cred.KeyFile,
			KnownHosts:  cred.KnownHosts,
			Insecure:    cred.Insecure,
			ConnTimeout: cred.ConnTimeout,
		}, l.Dir
	}
	return Local(l.Dir), "."
}
