package pan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

// ErrNoDownloadURL is returned when the service yields no usable download
// URL for a pick code. Happens for folders and revoked tickets.
var ErrNoDownloadURL = errors.New("pan: no download URL for pick code")

// downloadTarget is the per-file entry of the downurl endpoint. The data
// object is keyed by file id, so the decoder iterates the map.
type downloadTarget struct {
	FileName string     `json:"file_name"`
	FileSize flexString `json:"file_size"`
	URL      struct {
		URL string `json:"url"`
	} `json:"url"`
}

// DownloadInfo describes where a file's content can be fetched from.
// The URL is pre-authenticated and ephemeral — never log it.
type DownloadInfo struct {
	URL  string
	Name string
	Size int64
}

// DownloadURL exchanges a file's pick code for its download URL.
func (c *Client) DownloadURL(ctx context.Context, pickCode string) (*DownloadInfo, error) {
	env, err := c.call(ctx, http.MethodPost, "/open/ufile/downurl", url.Values{"pick_code": {pickCode}})
	if err != nil {
		return nil, err
	}

	var targets map[string]downloadTarget
	if err := json.Unmarshal(env.Data, &targets); err != nil {
		return nil, fmt.Errorf("pan: decoding download URL response: %w", err)
	}

	for _, t := range targets {
		if t.URL.URL == "" {
			continue
		}

		size, _ := strconv.ParseInt(string(t.FileSize), 10, 64)

		return &DownloadInfo{URL: t.URL.URL, Name: t.FileName, Size: size}, nil
	}

	return nil, ErrNoDownloadURL
}

// Download streams a file's content to the given writer.
// Returns the number of bytes written.
func (c *Client) Download(ctx context.Context, pickCode string, w io.Writer) (int64, error) {
	c.logger.Info("downloading item", slog.String("pick_code", pickCode))

	info, err := c.DownloadURL(ctx, pickCode)
	if err != nil {
		return 0, fmt.Errorf("pan: resolving download URL: %w", err)
	}

	n, err := c.downloadFromURL(ctx, info.URL, w)
	if err != nil {
		return n, err
	}

	c.logger.Debug("download complete",
		slog.String("pick_code", pickCode),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}

// downloadFromURL streams content from a pre-authenticated URL directly to
// the writer. No Authorization header — the URL carries its own auth, and
// it is never logged for the same reason.
func (c *Client) downloadFromURL(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("pan: creating download request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pan: download request: %w", err)
	}
	defer resp.Body.Close()

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		return 0, &APIError{Code: resp.StatusCode, Message: "content fetch failed", Err: sentinel}
	}

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		c.logger.Error("streaming download content failed",
			slog.String("error", copyErr.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("pan: streaming download content: %w", copyErr)
	}

	return n, nil
}

// DownloadFile downloads an item to destPath. Content is written to a
// .partial file first and renamed into place, so an interrupted download
// never leaves a truncated file at the final path.
func (c *Client) DownloadFile(ctx context.Context, item *Item, destPath string) error {
	if item.PickCode == "" {
		return fmt.Errorf("pan: item %q has no pick code: %w", item.Name, ErrNoDownloadURL)
	}

	partialPath := destPath + ".partial"

	f, err := os.Create(partialPath)
	if err != nil {
		return fmt.Errorf("pan: creating partial file: %w", err)
	}

	_, dlErr := c.Download(ctx, item.PickCode, f)

	closeErr := f.Close()

	if dlErr != nil {
		os.Remove(partialPath)
		return dlErr
	}

	if closeErr != nil {
		os.Remove(partialPath)
		return fmt.Errorf("pan: closing partial file: %w", closeErr)
	}

	if err := os.Rename(partialPath, destPath); err != nil {
		os.Remove(partialPath)
		return fmt.Errorf("pan: renaming download to %q: %w", filepath.Base(destPath), err)
	}

	return nil
}
