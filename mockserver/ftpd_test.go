package mockserver

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialControl starts srv and returns a raw control connection past the
// greeting.
func dialControl(t *testing.T, srv *Server) *textproto.Conn {
	t.Helper()
	require.NoError(t, srv.Start("127.0.0.1:0"))
	c, err := textproto.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	_, _, err = c.ReadResponse(220)
	require.NoError(t, err)
	return c
}

func cmd(t *testing.T, c *textproto.Conn, expect int, format string, args ...any) string {
	t.Helper()
	id, err := c.Cmd(format, args...)
	require.NoError(t, err)
	c.StartResponse(id)
	defer c.EndResponse(id)
	_, msg, err := c.ReadResponse(expect)
	require.NoError(t, err, fmt.Sprintf(format, args...))
	return msg
}

func login(t *testing.T, c *textproto.Conn) {
	t.Helper()
	cmd(t, c, 331, "USER foo")
	cmd(t, c, 230, "PASS bar")
}

func TestFTPD_Commands(t *testing.T) {
	t.Parallel()

	srv, err := New()
	require.NoError(t, err)
	defer srv.Close()
	require.NoError(t, os.Mkdir(filepath.Join(srv.Root(), "sub"), 0o755))
	c := dialControl(t, srv)

	tests := []struct {
		name   string
		line   string
		expect int
		reply  string
	}{
		{"list before login", "NLST", 530, ""},
		{"features before login", "FEAT", 211, "EPSV"},
		{"system", "SYST", 215, "UNIX"},
		{"bad password", "PASS nope", 530, ""},
	}
	for _, tt := range tests {
		msg := cmd(t, c, tt.expect, "%s", tt.line)
		assert.Contains(t, msg, tt.reply, tt.name)
	}

	login(t, c)
	after := []struct {
		name   string
		line   string
		expect int
		reply  string
	}{
		{"binary", "TYPE I", 200, ""},
		{"ebcdic", "TYPE E", 504, ""},
		{"into directory", "CWD sub", 250, ""},
		{"where", "PWD", 257, `"/sub"`},
		{"up", "CDUP", 250, ""},
		{"above root", "CWD ../../..", 250, ""},
		{"stays at root", "PWD", 257, `"/"`},
		{"missing dir", "CWD nope", 550, ""},
		{"missing file", "SIZE nope.out", 550, ""},
		{"no tls", "AUTH TLS", 502, ""},
		{"unknown", "XYZZY", 502, ""},
		{"keepalive", "NOOP", 200, ""},
	}
	for _, tt := range after {
		msg := cmd(t, c, tt.expect, "%s", tt.line)
		assert.Contains(t, msg, tt.reply, tt.name)
	}
	cmd(t, c, 221, "QUIT")
}

func TestFTPD_PassiveTransfer(t *testing.T) {
	t.Parallel()

	srv, err := New()
	require.NoError(t, err)
	defer srv.Close()
	c := dialControl(t, srv)
	login(t, c)

	upload := func(name, body string) {
		msg := cmd(t, c, 229, "EPSV")
		port := strings.TrimSuffix(msg[strings.Index(msg, "|||")+3:], "|)")
		data, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", port))
		require.NoError(t, err)
		id, err := c.Cmd("STOR %s", name)
		require.NoError(t, err)
		c.StartResponse(id)
		_, _, err = c.ReadResponse(150)
		require.NoError(t, err)
		_, err = io.WriteString(data, body)
		require.NoError(t, err)
		require.NoError(t, data.Close())
		_, _, err = c.ReadResponse(226)
		c.EndResponse(id)
		require.NoError(t, err)
	}

	upload("notes.txt", "hello")
	got, err := os.ReadFile(filepath.Join(srv.Root(), "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, "5", cmd(t, c, 213, "SIZE notes.txt"))

	// PASV reply: (h1,h2,h3,h4,p1,p2)
	msg := cmd(t, c, 227, "PASV")
	fields := strings.Split(msg[strings.Index(msg, "(")+1:strings.Index(msg, ")")], ",")
	require.Len(t, fields, 6)
	p1, _ := strconv.Atoi(fields[4])
	p2, _ := strconv.Atoi(fields[5])
	data, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p1<<8|p2)))
	require.NoError(t, err)
	id, err := c.Cmd("NLST")
	require.NoError(t, err)
	c.StartResponse(id)
	_, _, err = c.ReadResponse(150)
	require.NoError(t, err)
	listing, err := io.ReadAll(data)
	require.NoError(t, err)
	_, _, err = c.ReadResponse(226)
	c.EndResponse(id)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt\r\n", string(listing))

	// a transfer without PASV or EPSV has no data connection
	cmd(t, c, 425, "RETR notes.txt")
	cmd(t, c, 250, "DELE notes.txt")
	cmd(t, c, 550, "DELE notes.txt")
}

func TestFTPD_CloseEndsSessions(t *testing.T) {
	t.Parallel()

	srv, err := New()
	require.NoError(t, err)
	c := dialControl(t, srv)
	login(t, c)

	require.NoError(t, srv.Close())
	_, err = c.ReadLine()
	assert.Error(t, err)
}
