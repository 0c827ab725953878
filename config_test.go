package bbdl

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
bbg:
  data:
    ftp:
      hostname: sftp.bloomberg.com
      username: ${BBDL_TEST_USER}
      password: ${BBDL_TEST_PASS}
      remotedir: /
      secure: true
      usernumber: "1234"
      sn: "5678"
      WaitTime: 15
`

func TestConfig_LoadYAML(t *testing.T) {
	t.Setenv("BBDL_TEST_USER", "dl123")
	t.Setenv("BBDL_TEST_PASS", "secret")

	cfg := NewConfig()
	require.NoError(t, cfg.LoadYAML([]byte(testConfigYAML)))

	v, ok := cfg.Lookup("bbg.data.ftp.username")
	require.True(t, ok)
	assert.Equal(t, "dl123", v)

	s, err := cfg.Settings("bbg.data.ftp")
	require.NoError(t, err)
	assert.Equal(t, "dl123", s.Username)
	assert.Equal(t, "secret", s.Password)
	assert.Equal(t, "1234", s.UserNumber)
	assert.Equal(t, "5678", s.SN)
	assert.Equal(t, 15*time.Minute, s.WaitTime)
	assert.Equal(t, 22, s.Port)

	_, err = cfg.Settings("bbg.data.sftp")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = cfg.Settings("bbg.data.ftp.hostname")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfig_LoadYAMLDollar(t *testing.T) {
	t.Setenv("BBDL_TEST_PASS", "secret")
	t.Setenv("x", "expanded")

	tests := []struct {
		name     string
		password string
		want     string
	}{
		{"double dollar and bare name", `'pa$$w0rd$x'`, "pa$$w0rd$x"},
		{"trailing dollar", `"abc$"`, "abc$"},
		{"bare dollar name", `$HOME`, "$HOME"},
		{"braced reference", `${BBDL_TEST_PASS}`, "secret"},
		{"reference inside text", `"pre-${BBDL_TEST_PASS}-$x"`, "pre-secret-$x"},
		{"unset reference", `${BBDL_TEST_UNSET_VARIABLE}`, ""},
		{"unterminated brace", `'a${b'`, "a${b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			doc := "bbg:\n  data:\n    ftp:\n      password: " + tt.password + "\n"
			require.NoError(t, cfg.LoadYAML([]byte(doc)))

			s, err := cfg.Settings("bbg.data.ftp")
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Password)
		})
	}
}

func TestConfig_LoadEnvKeepsText(t *testing.T) {
	t.Setenv("BBDLTEST2__BBG__DATA__FTP__PASSWORD", "0123")
	t.Setenv("BBDLTEST2__BBG__DATA__FTP__USERNAME", "1e5")

	cfg := NewConfig()
	require.NoError(t, cfg.LoadEnv("BBDLTEST2"))
	s, err := cfg.Settings("bbg.data.ftp")
	require.NoError(t, err)
	assert.Equal(t, "0123", s.Password)
	assert.Equal(t, "1e5", s.Username)
}

func TestConfig_LoadEnv(t *testing.T) {
	t.Setenv("BBDLTEST__BBG__DATA__FTP__HOSTNAME", "localhost")
	t.Setenv("BBDLTEST__BBG__DATA__FTP__PORT", "2121")
	t.Setenv("BBDLTEST__BBG__DATA__FTP__SECURE", "false")

	cfg := NewConfig()
	require.NoError(t, cfg.LoadYAML([]byte(testConfigYAML)))
	require.NoError(t, cfg.LoadEnv("BBDLTEST"))

	s, err := cfg.Settings("bbg.data.ftp")
	require.NoError(t, err)
	assert.Equal(t, "localhost:2121", s.Addr())
	assert.False(t, s.Secure)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bbdl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bbg:\n  data:\n    ftp:\n      hostname: example.com\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	s, err := cfg.Settings("bbg.data.ftp")
	require.NoError(t, err)
	assert.Equal(t, "example.com", s.Hostname)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_MalformedDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bbdl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bbg: {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BBDL_TEST_DOTENV=\"unterminated\n"), 0o600))
	t.Chdir(dir)

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, ".env")
}

func TestConfig_Lock(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	require.NoError(t, cfg.Set("bbg.data.ftp.hostname", "localhost"))
	assert.False(t, cfg.Locked())

	_, err := NewFromConfig(cfg, "bbg.data.ftp")
	assert.ErrorIs(t, err, ErrValidation)

	cfg.Lock()
	assert.True(t, cfg.Locked())
	assert.ErrorIs(t, cfg.Set("bbg.data.ftp.port", 2121), ErrConfigLocked)
	assert.ErrorIs(t, cfg.LoadYAML([]byte("a: 1")), ErrConfigLocked)

	c, err := NewFromConfig(cfg, "bbg.data.ftp")
	require.NoError(t, err)
	assert.Equal(t, "localhost", c.Settings().Hostname)
}

func TestConfig_Keys(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	assert.ErrorIs(t, cfg.Set("bbg..ftp", 1), ErrValidation)
	require.NoError(t, cfg.Set("A.B", 1))
	v, ok := cfg.Lookup("a.b")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = cfg.Lookup("a.b.c")
	assert.False(t, ok)
	_, ok = cfg.Lookup("")
	assert.False(t, ok)
}

func TestConfig_InvalidYAML(t *testing.T) {
	t.Parallel()

	err := NewConfig().LoadYAML([]byte("a: [1, 2"))
	assert.ErrorIs(t, err, ErrParse)
}
