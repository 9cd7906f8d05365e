package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by FromEnv
const (
	EnvURL            = "KOPABASE_URL"
	EnvAnonKey        = "KOPABASE_ANON_KEY"
	EnvServiceRoleKey = "KOPABASE_SERVICE_ROLE_KEY"
	EnvProjectName    = "KOPABASE_PROJECT_NAME"
	EnvStateDB        = "KOPABASE_STATE_DB"
)

// maxImportSize bounds imported connection documents
const maxImportSize = 1 << 20

// Connection is a saved project connection. The JSON names match the
// import file format.
type Connection struct {
	ProjectURL     string `json:"projectUrl"`
	AnonKey        string `json:"anonKey"`
	ServiceRoleKey string `json:"serviceRoleKey,omitempty"`
	ProjectName    string `json:"projectName,omitempty"`
}

// Validate checks the required fields
func (c Connection) Validate() error {
	if c.ProjectURL == "" || c.AnonKey == "" {
		return fmt.Errorf("missing required fields: projectUrl and anonKey")
	}
	u, err := url.Parse(c.ProjectURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("projectUrl %q is not a valid project URL", c.ProjectURL)
	}
	return nil
}

// Trimmed returns the connection with surrounding whitespace removed
func (c Connection) Trimmed() Connection {
	return Connection{
		ProjectURL:     strings.TrimSpace(c.ProjectURL),
		AnonKey:        strings.TrimSpace(c.AnonKey),
		ServiceRoleKey: strings.TrimSpace(c.ServiceRoleKey),
		ProjectName:    strings.TrimSpace(c.ProjectName),
	}
}

// FromEnv builds a connection from the environment, loading the given .env
// files first (or ./.env when none are given). It reports false when
// KOPABASE_URL is unset.
func FromEnv(files ...string) (Connection, bool, error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Connection{}, false, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	conn := Connection{
		ProjectURL:     os.Getenv(EnvURL),
		AnonKey:        os.Getenv(EnvAnonKey),
		ServiceRoleKey: os.Getenv(EnvServiceRoleKey),
		ProjectName:    os.Getenv(EnvProjectName),
	}.Trimmed()
	if conn.ProjectURL == "" {
		return Connection{}, false, nil
	}
	if err := conn.Validate(); err != nil {
		return Connection{}, false, fmt.Errorf("invalid environment connection: %w", err)
	}
	return conn, true, nil
}

// ParseConnection decodes and validates a connection document
func ParseConnection(r io.Reader) (Connection, error) {
	var conn Connection
	if err := json.NewDecoder(io.LimitReader(r, maxImportSize)).Decode(&conn); err != nil {
		return Connection{}, fmt.Errorf("invalid connection JSON: %w", err)
	}
	conn = conn.Trimmed()
	if err := conn.Validate(); err != nil {
		return Connection{}, err
	}
	return conn, nil
}

// ImportFile reads a connection document from disk
func ImportFile(path string) (Connection, error) {
	f, err := os.Open(path)
	if err != nil {
		return Connection{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ParseConnection(f)
}

// ImportURL fetches a connection document over HTTP
func ImportURL(ctx context.Context, client *http.Client, link string) (Connection, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(link), nil)
	if err != nil {
		return Connection{}, fmt.Errorf("invalid import link: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Connection{}, fmt.Errorf("failed to fetch connection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Connection{}, fmt.Errorf("failed to fetch connection: unexpected status %d", resp.StatusCode)
	}
	return ParseConnection(resp.Body)
}

// Import reads a connection document from a path or an http(s) link
func Import(ctx context.Context, client *http.Client, source string) (Connection, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return ImportURL(ctx, client, source)
	}
	return ImportFile(source)
}
