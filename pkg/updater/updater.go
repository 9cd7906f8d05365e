// Package updater replaces the running binary with the latest CI build.
package updater

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultAPIURL = "https://api.github.com"
	DefaultRepo   = "kopabase/kopabase"

	defaultBinary = "kopabase"
)

// Updater downloads build artifacts of the CI workflow
type Updater struct {
	apiURL     string
	repo       string
	token      string
	binaryName string
	client     *http.Client
	logger     *zap.Logger
}

// WorkflowRun is a CI workflow run
type WorkflowRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	HeadBranch string    `json:"head_branch"`
	HeadSHA    string    `json:"head_sha"`
	Conclusion string    `json:"conclusion"`
	CreatedAt  time.Time `json:"created_at"`
}

// Artifact is a file produced by a workflow run
type Artifact struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	SizeInBytes        int64  `json:"size_in_bytes"`
	ArchiveDownloadURL string `json:"archive_download_url"`
	Expired            bool   `json:"expired"`
}

// Option configures an Updater
type Option func(*Updater)

// WithAPIURL points the updater at another API host
func WithAPIURL(u string) Option {
	return func(up *Updater) { up.apiURL = strings.TrimRight(u, "/") }
}

// WithRepo sets the owner/name repository to update from
func WithRepo(repo string) Option {
	return func(up *Updater) { up.repo = repo }
}

// WithToken sets the API token; GITHUB_TOKEN is used by default
func WithToken(token string) Option {
	return func(up *Updater) { up.token = token }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(up *Updater) { up.client = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(up *Updater) { up.logger = l }
}

// WithBinaryName overrides the name derived from the running executable
func WithBinaryName(name string) Option {
	return func(up *Updater) { up.binaryName = name }
}

// New creates an updater
func New(opts ...Option) *Updater {
	u := &Updater{
		apiURL:     DefaultAPIURL,
		repo:       DefaultRepo,
		token:      os.Getenv("GITHUB_TOKEN"),
		binaryName: defaultBinary,
		client:     &http.Client{Timeout: 5 * time.Minute},
		logger:     zap.NewNop(),
	}
	if exe, err := os.Executable(); err == nil {
		u.binaryName = BinaryName(exe)
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// BinaryName strips the directory, the .exe extension and a -<os>-<arch>
// suffix from an executable path
func BinaryName(exe string) string {
	name := strings.TrimSuffix(filepath.Base(exe), ".exe")
	parts := strings.Split(name, "-")
	if len(parts) >= 3 && knownOS[parts[len(parts)-2]] {
		name = strings.Join(parts[:len(parts)-2], "-")
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return defaultBinary
	}
	return name
}

var knownOS = map[string]bool{"linux": true, "windows": true, "darwin": true, "freebsd": true}

// ArtifactName is the artifact built for this platform
func (u *Updater) ArtifactName() string {
	return fmt.Sprintf("%s-%s-%s", u.binaryName, runtime.GOOS, runtime.GOARCH)
}

// ExecutableName is the file inside the artifact archive
func (u *Updater) ExecutableName() string {
	if runtime.GOOS == "windows" {
		return u.ArtifactName() + ".exe"
	}
	return u.ArtifactName()
}

func (u *Updater) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (u *Updater) getJSON(ctx context.Context, url string, out any) error {
	resp, err := u.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// LatestRun returns the newest successful build run on branch
func (u *Updater) LatestRun(ctx context.Context, branch string) (*WorkflowRun, error) {
	var resp struct {
		WorkflowRuns []WorkflowRun `json:"workflow_runs"`
	}
	url := fmt.Sprintf("%s/repos/%s/actions/runs?branch=%s&status=success&per_page=100", u.apiURL, u.repo, branch)
	if err := u.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	for _, run := range resp.WorkflowRuns {
		if run.Conclusion == "success" && strings.Contains(strings.ToLower(run.Name), "build") {
			return &run, nil
		}
	}
	return nil, fmt.Errorf("no successful build run found for branch %q", branch)
}

// Artifact finds this platform's unexpired artifact of a run
func (u *Updater) Artifact(ctx context.Context, runID int64) (*Artifact, error) {
	var resp struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	url := fmt.Sprintf("%s/repos/%s/actions/runs/%d/artifacts", u.apiURL, u.repo, runID)
	if err := u.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	want := u.ArtifactName()
	for _, a := range resp.Artifacts {
		if a.Name == want && !a.Expired {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("run %d has no artifact %s", runID, want)
}

// Download saves an artifact archive into dir and returns its path
func (u *Updater) Download(ctx context.Context, a *Artifact, dir string) (string, error) {
	resp, err := u.get(ctx, a.ArchiveDownloadURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	path := filepath.Join(dir, a.Name+".zip")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return path, out.Close()
}

// ExtractExecutable unpacks this platform's executable from a zip archive
func (u *Updater) ExtractExecutable(zipPath, dir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	want := u.ExecutableName()
	for _, f := range r.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != want {
			continue
		}
		outPath := filepath.Join(dir, want)
		if err := extract(f, outPath); err != nil {
			return "", err
		}
		return outPath, nil
	}
	return "", fmt.Errorf("archive has no executable %s", want)
}

func extract(f *zip.File, outPath string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// Update installs the latest build of branch over the running executable
func (u *Updater) Update(ctx context.Context, branch string) (*WorkflowRun, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate current executable: %w", err)
	}
	if exe, err = filepath.EvalSymlinks(exe); err != nil {
		return nil, fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	return u.UpdateFile(ctx, branch, exe)
}

// UpdateFile installs the latest build of branch at target
func (u *Updater) UpdateFile(ctx context.Context, branch, target string) (*WorkflowRun, error) {
	run, err := u.LatestRun(ctx, branch)
	if err != nil {
		return nil, err
	}
	u.logger.Info("found build", zap.Int64("run", run.ID), zap.String("sha", run.HeadSHA))

	artifact, err := u.Artifact(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "kopabase-update-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	archive, err := u.Download(ctx, artifact, dir)
	if err != nil {
		return nil, err
	}
	u.logger.Debug("downloaded artifact", zap.String("name", artifact.Name), zap.Int64("bytes", artifact.SizeInBytes))

	newExe, err := u.ExtractExecutable(archive, dir)
	if err != nil {
		return nil, err
	}
	if err := ReplaceExecutable(target, newExe); err != nil {
		return nil, err
	}
	return run, nil
}

// ReplaceExecutable moves target aside, copies newExe in its place and
// restores the original when the copy fails
func ReplaceExecutable(target, newExe string) error {
	backup := target + ".old"
	if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove old backup: %w", err)
	}
	if err := os.Rename(target, backup); err != nil {
		return fmt.Errorf("failed to back up current executable: %w", err)
	}

	if err := copyFile(newExe, target); err != nil {
		_ = os.Rename(backup, target)
		return fmt.Errorf("failed to replace executable: %w", err)
	}
	if err := os.Chmod(target, 0o755); err != nil {
		return fmt.Errorf("failed to set executable permissions: %w", err)
	}

	// Windows keeps the running image locked, so the backup may stay behind
	_ = os.Remove(backup)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
