package pan

import (
	"context"
	"crypto/sha1" //nolint:gosec // the service's dedup protocol is SHA-1
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// preidRangeSize is how many leading bytes the init endpoint hashes for
// its cheap pre-check (128 KiB).
const preidRangeSize = 128 * 1024

// Upload init status values.
const (
	uploadStatusInstant = 2 // file already known server-side, no bytes needed
)

// Init statuses that request a second-round signature over a byte range.
var signRequiredStatuses = map[int]bool{6: true, 7: true, 8: true}

// uploadInitResponse mirrors the init endpoint's data object.
type uploadInitResponse struct {
	Status    int        `json:"status"`
	PickCode  string     `json:"pick_code"`
	FileID    flexString `json:"file_id"`
	UploadURL string     `json:"upload_url"`
	SignKey   string     `json:"sign_key"`
	SignCheck string     `json:"sign_check"` // byte range "start-end" to hash
}

// UploadFile uploads a local file into the directory parentID under the
// given name. The init call sends the file's SHA-1 so known content
// completes instantly without transferring bytes; otherwise the content is
// sent to the URL the init call designates.
func (c *Client) UploadFile(ctx context.Context, parentID, localPath, name string) (*Item, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("pan: stating upload source: %w", err)
	}

	fileID, preID, err := hashForUpload(localPath)
	if err != nil {
		return nil, err
	}

	c.logger.Info("upload init",
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.Int64("size", fi.Size()),
	)

	init, err := c.initUpload(ctx, parentID, name, fi.Size(), fileID, preID, "", "")
	if err != nil {
		return nil, err
	}

	// Second-round signature: hash the requested byte range and re-init.
	if signRequiredStatuses[init.Status] && init.SignKey != "" && init.SignCheck != "" {
		signVal, signErr := sha1Range(localPath, init.SignCheck)
		if signErr != nil {
			return nil, signErr
		}

		init, err = c.initUpload(ctx, parentID, name, fi.Size(), fileID, preID, init.SignKey, signVal)
		if err != nil {
			return nil, err
		}
	}

	if init.Status == uploadStatusInstant {
		c.logger.Info("instant upload hit, no content transfer",
			slog.String("name", name),
			slog.String("file_id", string(init.FileID)),
		)

		return &Item{
			ID:       string(init.FileID),
			ParentID: parentID,
			Name:     name,
			Size:     fi.Size(),
			SHA1:     fileID,
			PickCode: init.PickCode,
		}, nil
	}

	if init.UploadURL == "" {
		return nil, fmt.Errorf("pan: upload init returned no upload URL: %w", ErrEmptyPayload)
	}

	return c.putContent(ctx, init, parentID, localPath, name, fi.Size(), fileID)
}

// initUpload calls the upload scheduling endpoint.
func (c *Client) initUpload(
	ctx context.Context,
	parentID, name string,
	size int64,
	fileID, preID, signKey, signVal string,
) (*uploadInitResponse, error) {
	params := url.Values{
		"file_name": {name},
		"file_size": {strconv.FormatInt(size, 10)},
		"target":    {"U_1_" + parentID},
		"fileid":    {fileID},
		"preid":     {preID},
	}

	if signKey != "" {
		params.Set("sign_key", signKey)
		params.Set("sign_val", signVal)
	}

	env, err := c.call(ctx, http.MethodPost, "/open/upload/init", params)
	if err != nil {
		return nil, err
	}

	var init uploadInitResponse
	if err := json.Unmarshal(env.Data, &init); err != nil {
		return nil, fmt.Errorf("pan: decoding upload init response: %w", err)
	}

	return &init, nil
}

// putContent streams the file body to the upload URL from init and decodes
// the registration response.
func (c *Client) putContent(
	ctx context.Context,
	init *uploadInitResponse,
	parentID, localPath, name string,
	size int64,
	fileSHA1 string,
) (*Item, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("pan: opening upload source: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, init.UploadURL, f)
	if err != nil {
		return nil, fmt.Errorf("pan: creating upload request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("pan: obtaining token for upload: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Pick-Code", init.PickCode)
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pan: upload request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pan: reading upload response: %w", err)
	}

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		return nil, &APIError{Code: resp.StatusCode, Message: string(body), Err: sentinel}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("pan: decoding upload response: %w", err)
	}

	if !env.State {
		return nil, &APIError{Code: env.Code, Message: env.Message, Err: classifyCode(env.Code)}
	}

	var registered struct {
		FileID flexString `json:"file_id"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &registered); err != nil {
			return nil, fmt.Errorf("pan: decoding upload registration: %w", err)
		}
	}

	c.logger.Debug("upload complete",
		slog.String("name", name),
		slog.Int64("bytes", size),
	)

	return &Item{
		ID:       string(registered.FileID),
		ParentID: parentID,
		Name:     name,
		Size:     size,
		SHA1:     fileSHA1,
		PickCode: init.PickCode,
	}, nil
}

// hashForUpload computes the full-file SHA-1 and the leading-range SHA-1
// the init endpoint wants, both uppercase hex.
func hashForUpload(path string) (fileID, preID string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("pan: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	full := sha1.New() //nolint:gosec // protocol requirement
	pre := sha1.New()  //nolint:gosec // protocol requirement

	// Hash the first 128 KiB into both, then the rest into the full hash.
	if _, err := io.CopyN(io.MultiWriter(full, pre), f, preidRangeSize); err != nil && err != io.EOF {
		return "", "", fmt.Errorf("pan: hashing %s: %w", path, err)
	}

	if _, err := io.Copy(full, f); err != nil {
		return "", "", fmt.Errorf("pan: hashing %s: %w", path, err)
	}

	return strings.ToUpper(hex.EncodeToString(full.Sum(nil))),
		strings.ToUpper(hex.EncodeToString(pre.Sum(nil))), nil
}

// sha1Range hashes the inclusive byte range spec "start-end" of a file,
// uppercase hex. Used for the init endpoint's second-round signature.
func sha1Range(path, rangeSpec string) (string, error) {
	parts := strings.SplitN(rangeSpec, "-", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("pan: malformed sign range %q", rangeSpec)
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("pan: malformed sign range %q: %w", rangeSpec, err)
	}

	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return "", fmt.Errorf("pan: malformed sign range %q", rangeSpec)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("pan: opening %s for range hash: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return "", fmt.Errorf("pan: seeking for range hash: %w", err)
	}

	h := sha1.New() //nolint:gosec // protocol requirement
	if _, err := io.CopyN(h, f, end-start+1); err != nil && err != io.EOF {
		return "", fmt.Errorf("pan: hashing range of %s: %w", path, err)
	}

	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
