package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets the kopabase variables for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvURL, EnvAnonKey, EnvServiceRoleKey, EnvProjectName, EnvStateDB} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 20, c.Server.PageSize)
	assert.Equal(t, 60, c.Client.SignedURLSeconds)
	assert.Equal(t, StateFileName, filepath.Base(c.StateDB))
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"no addr":        func(c *Config) { c.Server.Addr = "" },
		"zero page":      func(c *Config) { c.Server.PageSize = 0 },
		"zero timeout":   func(c *Config) { c.Client.Timeout = 0 },
		"negative links": func(c *Config) { c.Client.SignedURLSeconds = -1 },
		"no state db":    func(c *Config) { c.StateDB = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)

	c := DefaultConfig()
	c.Server.Addr = ":9000"
	c.Client.Timeout = 5 * time.Second
	require.NoError(t, c.SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeout: 5s")

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  page_size: 50\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, c.Server.PageSize)
	assert.Equal(t, "127.0.0.1:8787", c.Server.Addr)
}

func TestLoadMissingFileAndEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvStateDB, "/tmp/custom.db")

	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", c.StateDB)
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  page_size: -1\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("server: [\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestConnectionValidate(t *testing.T) {
	assert.NoError(t, Connection{ProjectURL: "https://x.supabase.co", AnonKey: "k"}.Validate())
	assert.Error(t, Connection{ProjectURL: "https://x.supabase.co"}.Validate())
	assert.Error(t, Connection{AnonKey: "k"}.Validate())
	assert.Error(t, Connection{ProjectURL: "x.supabase.co", AnonKey: "k"}.Validate())
	assert.Error(t, Connection{ProjectURL: "ftp://x", AnonKey: "k"}.Validate())
}

func TestParseConnection(t *testing.T) {
	conn, err := ParseConnection(strings.NewReader(`{"projectUrl": " https://x.supabase.co ", "anonKey": "a", "serviceRoleKey": "s", "openaiKey": "ignored"}`))
	require.NoError(t, err)
	assert.Equal(t, Connection{ProjectURL: "https://x.supabase.co", AnonKey: "a", ServiceRoleKey: "s"}, conn)

	_, err = ParseConnection(strings.NewReader(`{"projectUrl": "https://x.supabase.co"}`))
	assert.ErrorContains(t, err, "missing required fields")

	_, err = ParseConnection(strings.NewReader(`nope`))
	assert.Error(t, err)
}

func TestImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"projectUrl": "http://localhost:54321", "anonKey": "a", "projectName": "Dev"}`), 0o600))

	conn, err := Import(context.Background(), nil, path)
	require.NoError(t, err)
	assert.Equal(t, "Dev", conn.ProjectName)

	_, err = ImportFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestImportURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conn.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"projectUrl": "https://x.supabase.co", "anonKey": "a"}`))
	}))
	defer srv.Close()

	conn, err := Import(context.Background(), srv.Client(), srv.URL+"/conn.json")
	require.NoError(t, err)
	assert.Equal(t, "https://x.supabase.co", conn.ProjectURL)

	_, err = ImportURL(context.Background(), srv.Client(), srv.URL+"/other.json")
	assert.ErrorContains(t, err, "unexpected status 404")
}

func TestFromEnv(t *testing.T) {
	clearEnv(t)

	_, ok, err := FromEnv(filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err, "an explicit env file must exist")
	assert.False(t, ok)

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("KOPABASE_URL=https://x.supabase.co\nKOPABASE_ANON_KEY=anon\nKOPABASE_PROJECT_NAME=Prod\n"), 0o600))

	conn, ok, err := FromEnv(envFile)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Connection{ProjectURL: "https://x.supabase.co", AnonKey: "anon", ProjectName: "Prod"}, conn)
}

func TestFromEnvUnset(t *testing.T) {
	clearEnv(t)
	emptyFile := filepath.Join(t.TempDir(), "empty.env")
	require.NoError(t, os.WriteFile(emptyFile, []byte("# nothing\n"), 0o600))

	_, ok, err := FromEnv(emptyFile)
	require.NoError(t, err)
	assert.False(t, ok)
}
