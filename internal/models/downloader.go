package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Downloader fetches model files into a local model directory.
type Downloader struct {
	dir     string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewDownloader creates a new model downloader. An empty baseURL means
// the Hugging Face Hub.
func NewDownloader(dir, baseURL string, client *http.Client, logger *slog.Logger) *Downloader {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("component", "models")),
	}
}

// Download fetches every file of m that is missing or fails verification.
// It returns how many files were downloaded.
func (d *Downloader) Download(ctx context.Context, m Model) (int, error) {
	dir := m.Dir(d.dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create model directory: %w", err)
	}

	fetched := 0
	for _, f := range m.Files {
		path := filepath.Join(dir, f.Local)
		if isValidFile(path, f.SHA256) {
			d.logger.Info("Model file present", slog.String("file", f.Local))
			continue
		}

		d.logger.Info("Downloading model file",
			slog.String("model", m.Name),
			slog.String("file", f.Remote))
		n, err := d.downloadFile(ctx, m, f, path)
		if err != nil {
			return fetched, fmt.Errorf("failed to download %s: %w", f.Remote, err)
		}
		fetched++
		d.logger.Info("Downloaded model file",
			slog.String("file", f.Local),
			slog.Int64("bytes", n))
	}
	return fetched, nil
}

// Status reports whether every file of m is present and valid.
func (d *Downloader) Status(m Model) bool {
	for _, f := range m.Files {
		if !isValidFile(filepath.Join(m.Dir(d.dir), f.Local), f.SHA256) {
			return false
		}
	}
	return true
}

// URL returns the download link of f.
func (d *Downloader) URL(m Model, f File) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", d.baseURL, m.Repo, m.Revision, f.Remote)
}

func (d *Downloader) downloadFile(ctx context.Context, m Model, f File, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL(m, f), nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	part := dest + ".part"
	file, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(file, hasher), resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return n, fmt.Errorf("failed to write file: %w", err)
	}

	if f.SHA256 != "" {
		if sum := hex.EncodeToString(hasher.Sum(nil)); sum != f.SHA256 {
			os.Remove(part)
			return n, fmt.Errorf("checksum mismatch: got %s, want %s", sum, f.SHA256)
		}
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return n, err
	}
	return n, nil
}

// isValidFile checks that path exists, is not empty and matches the hash
// when one is known.
func isValidFile(path, expected string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	if expected == "" {
		return true
	}
	sum, err := fileHash(path)
	return err == nil && sum == expected
}

func fileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
