package bbdl_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gonzalop/bbdl"
	"github.com/gonzalop/bbdl/mockserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startMock(t *testing.T, opts ...mockserver.Option) *mockserver.Server {
	t.Helper()
	srv, err := mockserver.New(opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { srv.Close() })
	return srv
}

func newMockClient(t *testing.T, s bbdl.Settings, opts ...bbdl.Option) *bbdl.Client {
	t.Helper()
	opts = append([]bbdl.Option{
		bbdl.WithPollInterval(20 * time.Millisecond),
		bbdl.WithWaitTime(10 * time.Second),
		bbdl.WithTempDir(t.TempDir()),
		bbdl.WithTimeout(5 * time.Second),
	}, opts...)
	c, err := bbdl.New(s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_Request(t *testing.T) {
	t.Parallel()

	srv := startMock(t)
	var mu sync.Mutex
	progress := map[string]int64{}
	c := newMockClient(t, srv.Settings(), bbdl.WithProgress(func(name string, n int64) {
		mu.Lock()
		progress[name] = n
		mu.Unlock()
	}))

	res, err := c.Request(t.Context(),
		[]string{"IBM US Equity", "88160rag6 corp", "BADTICKER US Equity"},
		[]string{"id_bb_global", "PX_LAST", "MATURITY", "CALL_SCHEDULE", "EQY_DVD_YLD_IND"},
		[]string{"Security Master", "End of Day Pricing"},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RequestID)

	require.Len(t, res.Data, 2)
	ibm, ok := res.Lookup("IBM US Equity")
	require.True(t, ok)
	assert.Equal(t, "BBG000BLNNH6", ibm["ID_BB_GLOBAL"])
	assert.Equal(t, 181.72, ibm["PX_LAST"])
	assert.Nil(t, ibm["MATURITY"])

	bond, ok := res.Lookup("88160rag6 Corp")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC), bond["MATURITY"])
	assert.IsType(t, &bbdl.Bulk{}, bond["CALL_SCHEDULE"])

	require.Len(t, res.Errors, 1)
	assert.Equal(t, bbdl.ReturnCode(10), res.Errors[0].ReturnCode)
	assert.Equal(t, "Bloomberg cannot find the security as specified.", res.Errors[0].Message)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"CALL_SCHEDULE", "ID_BB_GLOBAL", "MATURITY", "PX_LAST"}, reqs[0].Fields)

	mu.Lock()
	assert.Positive(t, progress["fprp00.req"])
	assert.Positive(t, progress["fprp00.out"])
	mu.Unlock()

	// the client reconnects after Close
	require.NoError(t, c.Close())
	_, err = c.Request(t.Context(), []string{"IBM US Equity"}, []string{"PX_LAST"}, []string{"End of Day Pricing"})
	require.NoError(t, err)
	assert.Len(t, srv.Requests(), 2)
}

func TestClient_RequestHistory(t *testing.T) {
	t.Parallel()

	srv := startMock(t)
	c := newMockClient(t, srv.Settings())

	beg := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	res, err := c.Request(t.Context(),
		[]string{"IBM US Equity"},
		[]string{"PX_LAST", "PX_VOLUME"},
		[]string{"End of Day Pricing"},
		bbdl.WithDateRange(beg, end),
	)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, []any{158.60, 156.96, 158.50}, res.Data[0]["PX_LAST"])
	assert.Len(t, res.Data[0][bbdl.FieldDate], 3)
	assert.True(t, srv.Requests()[0].History())
}

func TestClient_RequestCompressed(t *testing.T) {
	t.Parallel()

	srv := startMock(t, mockserver.WithDelay(50*time.Millisecond))
	s := srv.Settings()
	s.Compressed = true
	c := newMockClient(t, s)

	res, err := c.Request(t.Context(), []string{"IBM US Equity"}, []string{"PX_LAST"}, []string{"End of Day Pricing"})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 181.72, res.Data[0]["PX_LAST"])
	assert.True(t, srv.Requests()[0].Compressed())
}

func TestClient_RequestChunks(t *testing.T) {
	t.Parallel()

	srv := startMock(t)
	c := newMockClient(t, srv.Settings())

	fields := make([]string, bbdl.MaxFieldsPerRequest+20)
	for i := range fields {
		fields[i] = fmt.Sprintf("FIELD_%04d", i)
	}
	fields[0] = "PX_LAST"

	res, err := c.Request(t.Context(), []string{"IBM US Equity"}, fields, nil)
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Fields, bbdl.MaxFieldsPerRequest)
	assert.Len(t, reqs[1].Fields, 20)

	require.Len(t, res.Data, 1)
	assert.Equal(t, 181.72, res.Data[0]["PX_LAST"])
	assert.Contains(t, res.Data[0], "FIELD_0519")
	assert.Len(t, res.Columns, 3+len(fields))
}

func TestClient_RequestValidation(t *testing.T) {
	t.Parallel()

	c, err := bbdl.New(bbdl.DefaultSettings(), bbdl.WithDialer(func(context.Context, bbdl.DialConfig) (bbdl.Transport, error) {
		t.Fatal("no connection expected")
		return nil, nil
	}))
	require.NoError(t, err)

	_, err = c.Request(t.Context(), nil, []string{"PX_LAST"}, nil)
	assert.ErrorIs(t, err, bbdl.ErrValidation)

	_, err = c.Request(t.Context(), []string{"IBM|TICKER|X"}, []string{"PX_LAST"}, nil)
	assert.ErrorIs(t, err, bbdl.ErrValidation)

	_, err = c.Request(t.Context(), []string{"IBM US Equity"}, []string{"PX_LAST"}, []string{"Fundamentals"})
	assert.ErrorIs(t, err, bbdl.ErrValidation)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	s := bbdl.DefaultSettings()
	s.ProgramFlag = "weekly"
	_, err := bbdl.New(s)
	assert.ErrorIs(t, err, bbdl.ErrValidation)

	_, err = bbdl.New(bbdl.DefaultSettings(), bbdl.WithTimeout(0))
	assert.Error(t, err)
	_, err = bbdl.New(bbdl.DefaultSettings(), bbdl.WithPollInterval(-time.Second))
	assert.Error(t, err)
}

// silentTransport accepts uploads and never produces a reply.
type silentTransport struct {
	mu       sync.Mutex
	uploaded []string
	lists    int
	closed   bool
	listErr  error
}

func (s *silentTransport) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	return append([]string(nil), s.uploaded...), s.listErr
}

func (s *silentTransport) Upload(_ context.Context, name string, r io.Reader) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	s.mu.Lock()
	s.uploaded = append(s.uploaded, name)
	s.mu.Unlock()
	return nil
}

func (s *silentTransport) Download(context.Context, string, io.Writer) error {
	return errors.New("no such file")
}

func (s *silentTransport) Delete(context.Context, string) error {
	return errors.New("no such file")
}

func (s *silentTransport) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func dialTo(tr bbdl.Transport) bbdl.Option {
	return bbdl.WithDialer(func(context.Context, bbdl.DialConfig) (bbdl.Transport, error) {
		return tr, nil
	})
}

func TestClient_RequestTimeout(t *testing.T) {
	t.Parallel()

	tr := &silentTransport{}
	c := newMockClient(t, bbdl.DefaultSettings(),
		dialTo(tr),
		bbdl.WithWaitTime(100*time.Millisecond),
	)

	_, err := c.Request(t.Context(), []string{"IBM US Equity"}, []string{"PX_LAST"}, nil)
	require.ErrorIs(t, err, bbdl.ErrTimeout)
	var te *bbdl.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "fprp00.out", te.File)
	assert.GreaterOrEqual(t, te.Waited, 100*time.Millisecond)
	assert.Equal(t, []string{"fprp00.req"}, tr.uploaded)
	assert.Greater(t, tr.lists, 1)
}

func TestClient_RequestCanceled(t *testing.T) {
	t.Parallel()

	c := newMockClient(t, bbdl.DefaultSettings(), dialTo(&silentTransport{}))

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, []string{"IBM US Equity"}, []string{"PX_LAST"}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ConnectionError(t *testing.T) {
	t.Parallel()

	// listing fails: the transport is dropped and the next request redials
	tr := &silentTransport{listErr: &bbdl.ConnectionError{Host: "mock", Op: "list", Err: io.ErrUnexpectedEOF}}
	dials := 0
	c := newMockClient(t, bbdl.DefaultSettings(), bbdl.WithDialer(func(context.Context, bbdl.DialConfig) (bbdl.Transport, error) {
		dials++
		return tr, nil
	}))

	_, err := c.Request(t.Context(), []string{"IBM US Equity"}, []string{"PX_LAST"}, nil)
	require.ErrorIs(t, err, bbdl.ErrConnection)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, tr.closed)

	_, err = c.Request(t.Context(), []string{"IBM US Equity"}, []string{"PX_LAST"}, nil)
	require.ErrorIs(t, err, bbdl.ErrConnection)
	assert.Equal(t, 2, dials)
}

func TestClient_DialFailure(t *testing.T) {
	t.Parallel()

	srv := startMock(t)
	s := srv.Settings()
	s.Password = "wrong"
	c := newMockClient(t, s)

	err := c.Connect(t.Context())
	assert.ErrorIs(t, err, bbdl.ErrConnection)
}

func TestClient_RequestBandwidthLimit(t *testing.T) {
	t.Parallel()

	srv := startMock(t)
	c := newMockClient(t, srv.Settings(), bbdl.WithBandwidthLimit(1<<20))

	res, err := c.Request(t.Context(), []string{"IBM US Equity"}, []string{"PX_LAST"}, []string{"End of Day Pricing"})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 181.72, res.Data[0]["PX_LAST"])
}

// selfSignedTLS returns a server certificate for 127.0.0.1.
func selfSignedTLS(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "bbdl mock"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}}}
}

func TestClient_RequestExplicitTLS(t *testing.T) {
	t.Parallel()

	srv := startMock(t, mockserver.WithTLS(selfSignedTLS(t)))
	s := srv.Settings()
	require.True(t, s.TLS)
	c := newMockClient(t, s, bbdl.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}))

	res, err := c.Request(t.Context(), []string{"IBM US Equity"}, []string{"PX_LAST"}, []string{"End of Day Pricing"})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 181.72, res.Data[0]["PX_LAST"])
}

func TestClient_RequestRepeatedIdentifiers(t *testing.T) {
	t.Parallel()

	manyFields := make([]string, bbdl.MaxFieldsPerRequest+1)
	for i := range manyFields {
		manyFields[i] = fmt.Sprintf("FIELD_%04d", i)
	}
	manyFields[0] = "PX_LAST"

	tests := []struct {
		name        string
		identifiers []string
		fields      []string
		wantPrices  []any
	}{
		{
			name:        "plain and override",
			identifiers: []string{"IBM US Equity", "IBM US Equity|TICKER|PX_LAST|1.5"},
			fields:      []string{"PX_LAST"},
			wantPrices:  []any{181.72, 1.5},
		},
		{
			name:        "same ticker twice",
			identifiers: []string{"IBM US Equity", "88160RAG6 Corp", "IBM US Equity"},
			fields:      []string{"PX_LAST"},
			wantPrices:  []any{181.72, nil, 181.72},
		},
		{
			name:        "override across chunks",
			identifiers: []string{"IBM US Equity", "IBM US Equity|TICKER|PX_LAST|1.5"},
			fields:      manyFields,
			wantPrices:  []any{181.72, 1.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := startMock(t)
			c := newMockClient(t, srv.Settings())

			res, err := c.Request(t.Context(), tt.identifiers, tt.fields, nil)
			require.NoError(t, err)
			require.Len(t, res.Data, len(tt.identifiers))
			for i, rec := range res.Data {
				assert.Equal(t, strings.Split(tt.identifiers[i], "|")[0], rec.Identifier())
				if tt.wantPrices[i] != nil {
					assert.Equal(t, tt.wantPrices[i], rec["PX_LAST"])
				}
				if len(tt.fields) > bbdl.MaxFieldsPerRequest {
					assert.Contains(t, rec, "FIELD_0500")
				}
			}
		})
	}
}
