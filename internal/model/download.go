package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

type DownloadOptions struct {
	Repo    string
	OutDir  string
	HFToken string
	Stdout  io.Writer
}

type ErrAccessDenied struct {
	Repo string
	Msg  string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("access denied for %s", e.Repo)
}

// lockManifest records, per artifact file, the revision and sha256 actually
// verified on disk. It lives next to the downloaded files and lets later runs
// trust a checksum that was only resolvable from remote metadata.
type lockManifest struct {
	Repo      string                `json:"repo"`
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// downloader carries the state shared by every file fetch of one Download
// run: the repository, the HTTP client, and the lock manifest being updated.
type downloader struct {
	repo   string
	outDir string
	token  string
	client *http.Client
	stdout io.Writer
	lock   lockManifest
}

// Download fetches the artifacts of a pinned repository into OutDir,
// verifying each file against its pinned or metadata-resolved checksum and
// recording the results in a lock manifest.
func Download(opts DownloadOptions) error {
	if opts.Repo == "" {
		return fmt.Errorf("repo is required")
	}
	if opts.OutDir == "" {
		return fmt.Errorf("out dir is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	manifest, err := PinnedManifest(opts.Repo)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	d := &downloader{
		repo:   manifest.Repo,
		outDir: opts.OutDir,
		token:  opts.HFToken,
		client: &http.Client{Timeout: 0},
		stdout: opts.Stdout,
		lock:   readLockManifest(lockPath(opts.OutDir)),
	}
	d.lock.Repo = opts.Repo
	d.lock.Generated = time.Now().UTC().Format(time.RFC3339)

	for _, f := range manifest.Files {
		if err := d.fetchFile(f); err != nil {
			return err
		}
	}

	if err := writeLockManifest(lockPath(opts.OutDir), d.lock); err != nil {
		return err
	}
	fmt.Fprintf(d.stdout, "wrote lock manifest: %s\n", lockPath(opts.OutDir))
	return nil
}

// fetchFile brings one artifact file up to date: it resolves the expected
// checksum, skips a local copy that already matches, and otherwise downloads
// and verifies the file before recording it in the lock manifest.
func (d *downloader) fetchFile(f ArtifactFile) error {
	expected, err := d.expectedChecksum(f)
	if err != nil {
		return err
	}

	localPath := filepath.Join(d.outDir, filepath.FromSlash(f.Filename))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local subdir: %w", err)
	}

	if ok, err := existingMatches(localPath, expected); err != nil {
		return err
	} else if ok {
		fmt.Fprintf(d.stdout, "skip %s (checksum match)\n", f.Filename)
		d.lock.Files[f.Filename] = lockRecord{Revision: f.Revision, SHA256: expected}
		return nil
	}

	fmt.Fprintf(d.stdout, "download %s@%s -> %s\n", f.Filename, f.Revision, localPath)
	actual, err := d.download(f, localPath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("checksum mismatch for %s: expected %s got %s", f.Filename, expected, actual)
	}

	fmt.Fprintf(d.stdout, "verified %s (sha256=%s)\n", f.Filename, actual)
	d.lock.Files[f.Filename] = lockRecord{Revision: f.Revision, SHA256: expected}
	return nil
}

// expectedChecksum resolves the sha256 an artifact file must hash to, in
// trust order: the pin compiled into the manifest, then a lock record for the
// same revision, then the repository's remote metadata.
func (d *downloader) expectedChecksum(f ArtifactFile) (string, error) {
	if f.SHA256 != "" {
		return strings.ToLower(f.SHA256), nil
	}
	if lr, ok := d.lock.Files[f.Filename]; ok && lr.Revision == f.Revision && isSHA256Hex(lr.SHA256) {
		return strings.ToLower(lr.SHA256), nil
	}
	return d.resolveChecksumFromMetadata(f)
}

func (d *downloader) resolveChecksumFromMetadata(f ArtifactFile) (string, error) {
	resp, err := d.do(http.MethodHead, f)
	if err != nil {
		return "", fmt.Errorf("metadata request failed for %s: %w", f.Filename, err)
	}
	defer resp.Body.Close()

	for _, key := range []string{"X-Linked-Etag", "X-Repo-Commit", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}

	return "", fmt.Errorf("unable to resolve sha256 metadata for %s; provide pinned checksum", f.Filename)
}

// do issues one request against the repository's resolve endpoint and maps
// the auth-failure statuses to ErrAccessDenied. HEAD tolerates redirect
// statuses that a GET would reject.
func (d *downloader) do(method string, f ArtifactFile) (*http.Response, error) {
	url := fmt.Sprintf("https://huggingface.co/%s/resolve/%s/%s", d.repo, f.Revision, f.Filename)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, &ErrAccessDenied{
			Repo: d.repo,
			Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", d.repo),
		}
	}

	limit := 299
	if method == http.MethodHead {
		limit = 399
	}
	if resp.StatusCode < 200 || resp.StatusCode > limit {
		status := resp.Status
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", status)
	}

	return resp, nil
}

// download streams the file into a temp sibling, hashing as it goes, and
// renames it into place only after the body is fully written.
func (d *downloader) download(f ArtifactFile, outPath string) (string, error) {
	resp, err := d.do(http.MethodGet, f)
	if err != nil {
		return "", fmt.Errorf("download failed for %s: %w", f.Filename, err)
	}
	defer resp.Body.Close()

	tmp := outPath + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	pw := &progressWriter{out: d.stdout, total: resp.ContentLength, lastPrint: time.Now()}

	if _, err := io.Copy(io.MultiWriter(fh, h, pw), resp.Body); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("download read failed: %w", err)
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat existing file: %w", err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}
	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

// progressWriter reports byte counts at a throttled interval.
type progressWriter struct {
	out       io.Writer
	total     int64
	written   int64
	lastPrint time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if time.Since(p.lastPrint) > 700*time.Millisecond {
		if p.total > 0 {
			pct := float64(p.written) * 100 / float64(p.total)
			fmt.Fprintf(p.out, "  progress: %.1f%% (%d/%d bytes)\n", pct, p.written, p.total)
		} else {
			fmt.Fprintf(p.out, "  progress: %d bytes\n", p.written)
		}
		p.lastPrint = time.Now()
	}
	return len(b), nil
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "\"")
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")
	return v
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func lockPath(outDir string) string {
	return filepath.Join(outDir, "download-manifest.lock.json")
}

// readLockManifest loads an existing lock manifest, tolerating a missing or
// corrupt file. The returned manifest always has a usable Files map.
func readLockManifest(path string) lockManifest {
	out := lockManifest{Files: map[string]lockRecord{}}

	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return lockManifest{Files: map[string]lockRecord{}}
	}
	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}
	return out
}

func writeLockManifest(path string, lock lockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}
	return nil
}
