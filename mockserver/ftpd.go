package mockserver

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxCommandLength is the maximum length of a command line.
const maxCommandLength = 4096

var errServerClosed = errors.New("mockserver: server closed")

// ftpd is the FTP side of the mock: a single-user server rooted at a
// directory, with passive data connections and optional explicit TLS.
type ftpd struct {
	root      string
	user      string
	pass      string
	tlsConfig *tls.Config
	logger    *slog.Logger

	// onUpload is called with the slash path and content of every
	// completed *.req upload
	onUpload func(name string, content []byte)

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	sessions sync.WaitGroup
}

// serve accepts connections on l until shutdown.
func (d *ftpd) serve(l net.Listener) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		l.Close()
		return errServerClosed
	}
	d.listener = l
	d.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			d.mu.Lock()
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return errServerClosed
			}
			return err
		}
		if !d.track(conn, true) {
			conn.Close()
			continue
		}
		d.sessions.Add(1)
		go func() {
			defer d.sessions.Done()
			defer d.track(conn, false)
			newSession(d, conn).serve()
		}()
	}
}

// track adds or removes an active connection. It refuses new connections
// after shutdown.
func (d *ftpd) track(conn net.Conn, add bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !add {
		delete(d.conns, conn)
		return true
	}
	if d.closed {
		return false
	}
	if d.conns == nil {
		d.conns = make(map[net.Conn]struct{})
	}
	d.conns[conn] = struct{}{}
	return true
}

// shutdown closes the listener and every active connection, then waits
// for the sessions to return.
func (d *ftpd) shutdown() error {
	d.mu.Lock()
	d.closed = true
	ln := d.listener
	d.listener = nil
	conns := d.conns
	d.conns = nil
	d.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for conn := range conns {
		conn.Close()
	}
	d.sessions.Wait()
	return err
}

// session is one FTP control connection.
type session struct {
	server *ftpd
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	sessionID string
	remoteIP  string

	user       string
	isLoggedIn bool
	cwd        string // slash path below the root
	prot       string // PROT P or C

	pasvList net.Listener
}

// commandHandlers maps FTP commands to their handlers. USER, PASS, QUIT and
// NOOP are handled in handleCommand.
var commandHandlers = map[string]func(*session, string){
	"CWD":  (*session).handleCWD,
	"CDUP": func(s *session, _ string) { s.handleCWD("..") },
	"PWD":  (*session).handlePWD,
	"NLST": (*session).handleNLST,
	"LIST": (*session).handleLIST,
	"DELE": (*session).handleDELE,
	"SIZE": (*session).handleSIZE,
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
	"TYPE": (*session).handleTYPE,
	"MODE": (*session).handleMODE,
	"STRU": (*session).handleSTRU,
	"PASV": (*session).handlePASV,
	"EPSV": (*session).handleEPSV,
	"FEAT": (*session).handleFEAT,
	"OPTS": (*session).handleOPTS,
	"SYST": (*session).handleSYST,
	"AUTH": (*session).handleAUTH,
	"PBSZ": (*session).handlePBSZ,
	"PROT": (*session).handlePROT,
}

// loginFree lists the commands accepted before login.
var loginFree = map[string]bool{
	"FEAT": true, "OPTS": true, "SYST": true, "AUTH": true, "PBSZ": true, "PROT": true,
}

func newSession(d *ftpd, conn net.Conn) *session {
	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteIP = conn.RemoteAddr().String()
	}
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return &session{
		server:    d,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		sessionID: fmt.Sprintf("%08x", b),
		remoteIP:  remoteIP,
		cwd:       "/",
		prot:      "C",
	}
}

func (s *session) serve() {
	defer s.close()

	s.reply(220, "Bloomberg Data License mock ready.")
	s.server.logger.Debug("session started", "session_id", s.sessionID, "remote_ip", s.remoteIP)

	for {
		line, err := s.readCommand()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.server.logger.Debug("read error", "session_id", s.sessionID, "error", err)
			}
			return
		}
		if !s.handleCommand(line) {
			return
		}
	}
}

func (s *session) close() {
	if s.pasvList != nil {
		s.pasvList.Close()
	}
	s.conn.Close()
	s.server.logger.Debug("session closed", "session_id", s.sessionID, "user", s.user)
}

// readCommand reads one line with a length limit.
func (s *session) readCommand() (string, error) {
	var line []byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			return strings.TrimRight(string(line), "\r"), nil
		}
		if len(line) >= maxCommandLength {
			return "", errors.New("command too long")
		}
		line = append(line, b)
	}
}

// handleCommand dispatches one command. It returns false when the session
// must end.
func (s *session) handleCommand(line string) bool {
	if line == "" {
		return true
	}
	cmd, arg, _ := strings.Cut(line, " ")
	cmd = strings.ToUpper(cmd)

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command received", "session_id", s.sessionID, "user", s.user, "cmd", cmd, "arg", logArg)

	switch cmd {
	case "USER":
		s.user, s.isLoggedIn = arg, false
		s.reply(331, "User name okay, need password.")
		return true
	case "PASS":
		if s.user != s.server.user || arg != s.server.pass {
			s.server.logger.Warn("login failed", "session_id", s.sessionID, "user", s.user)
			s.reply(530, "Login incorrect.")
			return true
		}
		s.isLoggedIn = true
		s.reply(230, "User logged in, proceed.")
		return true
	case "QUIT":
		s.reply(221, "Service closing control connection.")
		return false
	case "NOOP":
		s.reply(200, "OK.")
		return true
	}

	handler, ok := commandHandlers[cmd]
	if !ok {
		s.reply(502, "Command not implemented.")
		return true
	}
	if !s.isLoggedIn && !loginFree[cmd] {
		s.reply(530, "Please login with USER and PASS.")
		return true
	}
	handler(s, arg)
	return true
}

// resolve maps a client path to a slash path below the root and to the
// local file. Clean keeps ".." from leaving the root.
func (s *session) resolve(p string) (string, string) {
	if !path.IsAbs(p) {
		p = path.Join(s.cwd, p)
	}
	p = path.Clean("/" + p)
	return p, filepath.Join(s.server.root, filepath.FromSlash(p))
}

func (s *session) handleCWD(arg string) {
	p, local := s.resolve(arg)
	fi, err := os.Stat(local)
	if err != nil {
		s.replyError(err)
		return
	}
	if !fi.IsDir() {
		s.reply(550, "Not a directory.")
		return
	}
	s.cwd = p
	s.reply(250, "Directory successfully changed.")
}

func (s *session) handlePWD(string) {
	s.reply(257, fmt.Sprintf("%q is the current directory.", s.cwd))
}

func (s *session) listDir(arg string) ([]os.DirEntry, error) {
	// ls style flags are ignored
	if strings.HasPrefix(arg, "-") {
		arg = ""
	}
	_, local := s.resolve(arg)
	return os.ReadDir(local)
}

func (s *session) handleNLST(arg string) {
	entries, err := s.listDir(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	s.sendData("Here comes the file list.", func(w io.Writer) error {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s\r\n", e.Name()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *session) handleLIST(arg string) {
	entries, err := s.listDir(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	s.sendData("Here comes the directory listing.", func(w io.Writer) error {
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "%s 1 owner group %d %s %s\r\n",
				info.Mode().String(), info.Size(), info.ModTime().Format("Jan 02 15:04"), e.Name()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *session) handleDELE(arg string) {
	_, local := s.resolve(arg)
	if err := os.Remove(local); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "File deleted.")
}

func (s *session) handleSIZE(arg string) {
	_, local := s.resolve(arg)
	fi, err := os.Stat(local)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, strconv.FormatInt(fi.Size(), 10))
}

func (s *session) handleRETR(arg string) {
	_, local := s.resolve(arg)
	f, err := os.Open(local)
	if err != nil {
		s.replyError(err)
		return
	}
	defer f.Close()
	s.sendData("Opening data connection for RETR.", func(w io.Writer) error {
		_, err := io.Copy(w, f)
		return err
	})
}

func (s *session) handleSTOR(arg string) {
	name, local := s.resolve(arg)
	f, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		f.Close()
		s.reply(425, "Can't open data connection.")
		return
	}
	s.reply(150, "Opening data connection for STOR.")

	start := time.Now()
	var buf bytes.Buffer
	var w io.Writer = f
	isRequest := strings.HasSuffix(name, requestSuffix)
	if isRequest {
		w = io.MultiWriter(f, &buf)
	}
	n, err := io.Copy(w, conn)
	conn.Close()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	s.server.logger.Debug("transfer complete", "session_id", s.sessionID, "operation", "STOR",
		"path", name, "bytes", n, "duration_ms", time.Since(start).Milliseconds())
	s.reply(226, "Transfer complete.")

	if isRequest && s.server.onUpload != nil {
		s.server.onUpload(name, buf.Bytes())
	}
}

// sendData opens the data connection, writes with fn and closes it before
// the final reply.
func (s *session) sendData(msg string, fn func(io.Writer) error) {
	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	s.reply(150, msg)
	err = fn(conn)
	conn.Close()
	if err != nil {
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	s.reply(226, "Transfer complete.")
}

func (s *session) handleTYPE(arg string) {
	switch strings.ToUpper(arg) {
	case "I", "L 8", "A", "A N":
		s.reply(200, "Type set to "+arg+".")
	default:
		s.reply(504, "Type not supported.")
	}
}

func (s *session) handleMODE(arg string) {
	if strings.ToUpper(arg) != "S" {
		s.reply(504, "Only stream mode is supported.")
		return
	}
	s.reply(200, "Mode set to S.")
}

func (s *session) handleSTRU(arg string) {
	if strings.ToUpper(arg) != "F" {
		s.reply(504, "Only file structure is supported.")
		return
	}
	s.reply(200, "Structure set to F.")
}

func (s *session) listenPassive() (net.Listener, int, error) {
	if s.pasvList != nil {
		s.pasvList.Close()
		s.pasvList = nil
	}
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, 0, err
	}
	s.pasvList = ln
	return ln, ln.Addr().(*net.TCPAddr).Port, nil
}

func (s *session) handlePASV(string) {
	ln, port, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	ip := ln.Addr().(*net.TCPAddr).IP.To4()
	if ip == nil {
		s.reply(425, "PASV needs IPv4, use EPSV.")
		return
	}
	s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], port>>8, port&0xff))
}

func (s *session) handleEPSV(string) {
	_, port, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
}

// connData accepts the passive data connection, upgraded to TLS after
// PROT P.
func (s *session) connData() (net.Conn, error) {
	if s.pasvList == nil {
		return nil, errors.New("no data connection setup")
	}
	ln := s.pasvList
	s.pasvList = nil
	defer ln.Close()
	if t, ok := ln.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(10 * time.Second))
	}
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	if s.prot == "P" && s.server.tlsConfig != nil {
		return tls.Server(conn, s.server.tlsConfig), nil
	}
	return conn, nil
}

func (s *session) handleFEAT(string) {
	features := []string{"EPSV", "PASV", "SIZE"}
	if s.server.tlsConfig != nil {
		features = append(features, "AUTH TLS", "PBSZ", "PROT")
	}
	fmt.Fprintf(s.writer, "211-Features:\r\n")
	for _, f := range features {
		fmt.Fprintf(s.writer, " %s\r\n", f)
	}
	s.reply(211, "End")
}

func (s *session) handleOPTS(arg string) {
	if strings.EqualFold(arg, "UTF8 ON") {
		s.reply(200, "UTF8 mode enabled.")
		return
	}
	s.reply(501, "Option not understood.")
}

func (s *session) handleSYST(string) {
	s.reply(215, "UNIX Type: L8")
}

// handleAUTH upgrades the control connection (RFC 4217).
func (s *session) handleAUTH(arg string) {
	if s.server.tlsConfig == nil {
		s.reply(502, "TLS not configured.")
		return
	}
	if strings.ToUpper(arg) != "TLS" {
		s.reply(504, "Only AUTH TLS is supported.")
		return
	}
	s.reply(234, "AUTH TLS successful.")

	tlsConn := tls.Server(s.conn, s.server.tlsConfig)
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
}

func (s *session) handlePBSZ(string) {
	if s.server.tlsConfig == nil {
		s.reply(502, "TLS not configured.")
		return
	}
	s.reply(200, "PBSZ=0")
}

func (s *session) handlePROT(arg string) {
	if s.server.tlsConfig == nil {
		s.reply(502, "TLS not configured.")
		return
	}
	switch p := strings.ToUpper(arg); p {
	case "P", "C":
		s.prot = p
		s.reply(200, "PROT "+p+" OK.")
	default:
		s.reply(504, "PROT not implemented.")
	}
}

// replyError sends a 550 reply matching err.
func (s *session) replyError(err error) {
	switch {
	case os.IsNotExist(err):
		s.reply(550, "File not found.")
	case os.IsPermission(err):
		s.reply(550, "Permission denied.")
	default:
		s.reply(550, "Action failed: "+err.Error())
	}
}

// reply sends a response to the client.
func (s *session) reply(code int, message string) {
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}
