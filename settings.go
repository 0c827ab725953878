package bbdl

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Program flags. With oneshot Bloomberg bills the data categories pulled
// for four months; adhoc bills per request.
const (
	ProgramFlagAdhoc   = "adhoc"
	ProgramFlagOneshot = "oneshot"
)

// Settings holds the connection parameters and request defaults of a Data
// License account. The zero value is not usable; start from
// DefaultSettings or Config.Settings.
type Settings struct {
	Hostname  string
	Port      int
	Username  string
	Password  string
	RemoteDir string

	// Secure selects SFTP (true) or plain FTP (false).
	Secure bool
	// TLS enables explicit FTPS when Secure is false.
	TLS bool
	// KnownHosts is an OpenSSH known_hosts file used to verify the SFTP
	// host key. SFTP requires it unless InsecureSkipHostKey is set.
	KnownHosts string
	// InsecureSkipHostKey accepts any SFTP host key when KnownHosts is
	// empty. Test setups only.
	InsecureSkipHostKey bool

	// Terminal credentials.
	UserNumber string
	SN         string
	WS         string
	BBA        bool

	ProgramFlag string
	Delimiter   string
	DateFormat  string
	Compressed  bool

	// WaitTime bounds how long a request waits for its reply file.
	WaitTime time.Duration
	// PollInterval is the delay between remote directory listings.
	PollInterval time.Duration
	// TempDir receives request and reply files. Empty means os.TempDir().
	TempDir string
}

// DefaultSettings returns the settings of a production Data License account
// with no credentials.
func DefaultSettings() Settings {
	return Settings{
		Hostname:     "sftp.bloomberg.com",
		Port:         22,
		RemoteDir:    "/",
		Secure:       true,
		ProgramFlag:  ProgramFlagAdhoc,
		Delimiter:    "|",
		DateFormat:   "yyyymmdd",
		WaitTime:     20 * time.Minute,
		PollInterval: 10 * time.Second,
	}
}

// Addr returns host:port.
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Hostname, s.Port)
}

// Validate checks the settings needed to build and send requests.
func (s Settings) Validate() error {
	if s.Hostname == "" {
		return &ValidationError{Field: "hostname", Reason: "must be provided"}
	}
	if s.Port <= 0 || s.Port > 65535 {
		return &ValidationError{Field: "port", Reason: fmt.Sprintf("out of range: %d", s.Port)}
	}
	if s.ProgramFlag != ProgramFlagAdhoc && s.ProgramFlag != ProgramFlagOneshot {
		return &ValidationError{Field: "programflag", Reason: fmt.Sprintf("must be %q or %q, got %q", ProgramFlagAdhoc, ProgramFlagOneshot, s.ProgramFlag)}
	}
	if len(s.Delimiter) != 1 {
		return &ValidationError{Field: "delimiter", Reason: fmt.Sprintf("must be a single character, got %q", s.Delimiter)}
	}
	if s.WaitTime <= 0 {
		return &ValidationError{Field: "waittime", Reason: "must be positive"}
	}
	if s.PollInterval <= 0 {
		return &ValidationError{Field: "pollinterval", Reason: "must be positive"}
	}
	return nil
}

// IsTerminal reports whether the settings carry Bloomberg Terminal
// credentials, either an open terminal (SN and WS) or Bloomberg Anywhere
// (UserNumber with BBA).
func (s Settings) IsTerminal() bool {
	return (s.SN != "" && s.WS != "") || (s.UserNumber != "" && s.BBA)
}

// ValidateTerminalOpen checks the credentials of an open terminal.
func (s Settings) ValidateTerminalOpen() error {
	if s.SN == "" {
		return &ValidationError{Field: "sn", Reason: "SN must be provided for terminal access"}
	}
	if s.WS == "" {
		return &ValidationError{Field: "ws", Reason: "WS must be provided for terminal access"}
	}
	return nil
}

// UseBBA switches the settings to Bloomberg Anywhere authentication,
// which identifies the user by UserNumber alone.
func (s *Settings) UseBBA() error {
	if s.UserNumber == "" {
		return &ValidationError{Field: "usernumber", Reason: "Usernumber must be provided for BBA access"}
	}
	s.BBA = true
	s.SN = ""
	s.WS = ""
	return nil
}

func (s Settings) tempDir() string {
	if s.TempDir == "" {
		return os.TempDir()
	}
	return s.TempDir
}

// LogValue implements slog.LogValuer and never logs the password.
func (s Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("hostname", s.Hostname),
		slog.Int("port", s.Port),
		slog.String("username", s.Username),
		slog.String("remotedir", s.RemoteDir),
		slog.Bool("secure", s.Secure),
		slog.String("programflag", s.ProgramFlag),
		slog.Bool("terminal", s.IsTerminal()),
	)
}

// apply overlays configuration values onto s. Keys are the lower-case
// setting names used in configuration files.
func (s *Settings) apply(values map[string]any) error {
	for key, v := range values {
		var err error
		switch strings.ToLower(key) {
		case "hostname":
			s.Hostname, err = asString(v)
		case "port":
			s.Port, err = asInt(v)
		case "username":
			s.Username, err = asString(v)
		case "password":
			s.Password, err = asString(v)
		case "remotedir":
			s.RemoteDir, err = asString(v)
		case "secure":
			s.Secure, err = asBool(v)
		case "tls":
			s.TLS, err = asBool(v)
		case "knownhosts":
			s.KnownHosts, err = asString(v)
		case "insecureskiphostkey":
			s.InsecureSkipHostKey, err = asBool(v)
		case "usernumber":
			s.UserNumber, err = asString(v)
		case "sn":
			s.SN, err = asString(v)
		case "ws":
			s.WS, err = asString(v)
		case "bba":
			s.BBA, err = asBool(v)
		case "programflag":
			s.ProgramFlag, err = asString(v)
		case "delimiter":
			s.Delimiter, err = asString(v)
		case "dateformat":
			s.DateFormat, err = asString(v)
		case "compressed":
			s.Compressed, err = asBool(v)
		case "waittime":
			s.WaitTime, err = asDuration(v, time.Minute)
		case "pollinterval":
			s.PollInterval, err = asDuration(v, time.Second)
		case "tempdir":
			s.TempDir, err = asString(v)
		default:
			// Unknown keys belong to other consumers of the same subtree.
			continue
		}
		if err != nil {
			return &ValidationError{Field: key, Reason: err.Error()}
		}
	}
	return nil
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int, int64, float64, bool:
		return fmt.Sprint(x), nil
	}
	return "", fmt.Errorf("expected a string, got %T", v)
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

// asDuration accepts Go duration strings ("20m") or plain numbers counted
// in unit.
func asDuration(v any, unit time.Duration) (time.Duration, error) {
	switch x := v.(type) {
	case int:
		return time.Duration(x) * unit, nil
	case int64:
		return time.Duration(x) * unit, nil
	case float64:
		return time.Duration(x * float64(unit)), nil
	case string:
		x = strings.TrimSpace(x)
		if n, err := strconv.Atoi(x); err == nil {
			return time.Duration(n) * unit, nil
		}
		return time.ParseDuration(x)
	}
	return 0, fmt.Errorf("expected a duration, got %T", v)
}
