package mockserver

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gonzalop/bbdl"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRequest(t *testing.T, s bbdl.Settings, ids []string, fields []string, opts ...bbdl.RequestOption) []byte {
	t.Helper()
	parsed, err := bbdl.ParseIdentifiers(ids)
	require.NoError(t, err)
	var o bbdl.RequestOptions
	for _, opt := range opts {
		opt(&o)
	}
	var buf bytes.Buffer
	require.NoError(t, bbdl.BuildRequest(&buf, s, parsed, fields, o))
	return buf.Bytes()
}

func TestServer_Reply(t *testing.T) {
	t.Parallel()

	srv, err := New()
	require.NoError(t, err)
	defer srv.Close()

	data := buildRequest(t, bbdl.DefaultSettings(),
		[]string{"IBM US Equity", "BADTICKER US Equity", "UNKNOWN Corp", "IBM US Equity|TICKER|PX_LAST|1.5"},
		[]string{"PX_LAST", "NAME"})
	req, err := bbdl.ReadRequest(bytes.NewReader(data))
	require.NoError(t, err)

	reply, err := srv.Reply(req)
	require.NoError(t, err)
	text := string(reply)
	assert.True(t, strings.HasPrefix(text, "START-OF-FILE\n"))
	assert.True(t, strings.HasSuffix(text, "END-OF-FILE\n"))
	assert.Contains(t, text, "IBM US Equity|0|2|181.72|INTL BUSINESS MACHINES CORP|\n")
	assert.Contains(t, text, "BADTICKER US Equity|10|2| | |\n")
	assert.Contains(t, text, "UNKNOWN Corp|10|2| | |\n")
	assert.Contains(t, text, "IBM US Equity|0|2|1.5|INTL BUSINESS MACHINES CORP|\n")
	assert.Contains(t, text, "DATARECORDS=4\n")

	res, err := bbdl.ParseReply(bytes.NewReader(reply))
	require.NoError(t, err)
	assert.Len(t, res.Data, 2)
	assert.Len(t, res.Errors, 2)
}

func TestServer_ReplyHistory(t *testing.T) {
	t.Parallel()

	custom := Security{
		Identifier: "XYZ US Equity",
		Values:     map[string]string{"PX_LAST": "10"},
	}
	srv, err := New(WithSecurities(append([]Security{custom}, DefaultSecurities...)...))
	require.NoError(t, err)
	defer srv.Close()

	data := buildRequest(t, bbdl.DefaultSettings(),
		[]string{"IBM US Equity", "XYZ US Equity"},
		[]string{"PX_LAST"},
		bbdl.WithDateRange(date(2024, 1, 3), date(2024, 1, 8)))
	req, err := bbdl.ReadRequest(bytes.NewReader(data))
	require.NoError(t, err)

	reply, err := srv.Reply(req)
	require.NoError(t, err)

	res, err := bbdl.ParseReply(bytes.NewReader(reply))
	require.NoError(t, err)
	require.Len(t, res.Data, 2)

	ibm := res.Data[0]
	assert.Equal(t, []any{156.96, 158.50}, ibm["PX_LAST"])

	// Jan 6 and 7 are a weekend
	xyz := res.Data[1]
	assert.Equal(t, []any{int64(10), int64(10), int64(10), int64(10)}, xyz["PX_LAST"])
	assert.Equal(t, []any{date(2024, 1, 3), date(2024, 1, 4), date(2024, 1, 5), date(2024, 1, 8)}, xyz[bbdl.FieldDate])
}

func TestServer_Upload(t *testing.T) {
	t.Parallel()

	srv, err := New(WithCredentials("user", "pass"))
	require.NoError(t, err)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Close()

	s := srv.Settings()
	assert.Equal(t, "user", s.Username)
	assert.False(t, s.Secure)
	s.Compressed = true

	tr, err := bbdl.DialFTP(t.Context(), bbdl.DialConfig{Settings: s, Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer tr.Close()

	data := buildRequest(t, s, []string{"IBM US Equity"}, []string{"PX_LAST"})
	require.NoError(t, tr.Upload(t.Context(), "fprp00.req", bytes.NewReader(data)))

	reply := filepath.Join(srv.Root(), "fprp00.out.gz")
	require.Eventually(t, func() bool {
		_, err := os.Stat(reply)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, tr.Download(t.Context(), "fprp00.out.gz", &buf))
	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	text, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(text), "IBM US Equity|0|1|181.72|")

	require.Len(t, srv.Requests(), 1)
	assert.Equal(t, []string{"PX_LAST"}, srv.Requests()[0].Fields)
}

func TestServer_MalformedUpload(t *testing.T) {
	t.Parallel()

	srv, err := New()
	require.NoError(t, err)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Close()

	tr, err := bbdl.DialFTP(t.Context(), bbdl.DialConfig{Settings: srv.Settings(), Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Upload(t.Context(), "junk.req", strings.NewReader("not a request\n")))
	require.NoError(t, tr.Upload(t.Context(), "notes.txt", strings.NewReader("START-OF-FILE\n")))

	names, err := tr.List(t.Context())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"junk.req", "notes.txt"}, names)
	assert.Empty(t, srv.Requests())
}

func TestServer_Credentials(t *testing.T) {
	t.Parallel()

	srv, err := New()
	require.NoError(t, err)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Close()

	s := srv.Settings()
	s.Password = "nope"
	_, err = bbdl.DialFTP(t.Context(), bbdl.DialConfig{Settings: s, Timeout: 5 * time.Second})
	assert.ErrorIs(t, err, bbdl.ErrConnection)
}

func TestServer_Close(t *testing.T) {
	t.Parallel()

	srv, err := New(WithDelay(time.Hour))
	require.NoError(t, err)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	root := srv.Root()
	assert.NotEmpty(t, srv.Addr())
	assert.Positive(t, srv.Port())
	assert.Equal(t, "127.0.0.1", srv.Host())

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestWithRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	srv, err := New(WithRoot(dir))
	require.NoError(t, err)
	assert.Equal(t, dir, srv.Root())
	require.NoError(t, srv.Close())

	// a caller supplied root is kept
	_, err = os.Stat(dir)
	assert.NoError(t, err)
}
