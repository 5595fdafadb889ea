package pan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// listPageSize is the page size for directory listings. 1150 is the
// maximum the files endpoint accepts.
const listPageSize = 1150

// fileCategoryFolder is the file_category / fc value marking a directory.
const fileCategoryFolder = "0"

// flexString accepts JSON strings and numbers — the API is inconsistent
// about whether identifiers are quoted.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if trimmed == "null" {
		trimmed = ""
	}

	*s = flexString(trimmed)

	return nil
}

// listItemResponse mirrors the abbreviated JSON of the files endpoint.
// Unexported — callers use Item via toItem() normalization.
type listItemResponse struct {
	FID  flexString `json:"fid"`
	PID  flexString `json:"pid"`
	FN   string     `json:"fn"`
	FC   flexString `json:"fc"`
	FS   int64      `json:"fs"`
	PC   string     `json:"pc"`
	SHA1 string     `json:"sha1"`
	UPT  int64      `json:"upt"`
}

func (r *listItemResponse) toItem() Item {
	item := Item{
		ID:       string(r.FID),
		ParentID: string(r.PID),
		Name:     r.FN,
		Size:     r.FS,
		IsFolder: string(r.FC) == fileCategoryFolder,
		PickCode: r.PC,
		SHA1:     r.SHA1,
	}

	if r.UPT > 0 {
		item.ModifiedAt = time.Unix(r.UPT, 0).UTC()
	}

	return item
}

// infoResponse mirrors the long-form JSON of the get_info endpoint.
type infoResponse struct {
	FileID       flexString `json:"file_id"`
	ParentID     flexString `json:"parent_id"`
	FileName     string     `json:"file_name"`
	FileCategory flexString `json:"file_category"`
	SizeByte     int64      `json:"size_byte"`
	PickCode     string     `json:"pick_code"`
	SHA1         string     `json:"sha1"`
	UTime        int64      `json:"utime"`
}

func (r *infoResponse) toItem() Item {
	item := Item{
		ID:       string(r.FileID),
		ParentID: string(r.ParentID),
		Name:     r.FileName,
		Size:     r.SizeByte,
		IsFolder: string(r.FileCategory) == fileCategoryFolder,
		PickCode: r.PickCode,
		SHA1:     r.SHA1,
	}

	if r.UTime > 0 {
		item.ModifiedAt = time.Unix(r.UTime, 0).UTC()
	}

	return item
}

// ListChildren returns all entries (files and folders) of a directory,
// handling pagination automatically. Listing order is whatever the service
// returns — callers must not depend on it.
func (c *Client) ListChildren(ctx context.Context, dirID string) ([]Item, error) {
	c.logger.Info("listing children", slog.String("dir_id", dirID))

	var items []Item

	offset := 0

	for {
		params := url.Values{
			"cid":      {dirID},
			"show_dir": {"1"},
			"limit":    {strconv.Itoa(listPageSize)},
			"offset":   {strconv.Itoa(offset)},
		}

		env, err := c.call(ctx, http.MethodGet, "/open/ufile/files", params)
		if err != nil {
			return nil, err
		}

		var page []listItemResponse
		if err := json.Unmarshal(env.Data, &page); err != nil {
			return nil, fmt.Errorf("pan: decoding file list: %w", err)
		}

		for i := range page {
			items = append(items, page[i].toItem())
		}

		if len(page) < listPageSize || (env.Count > 0 && len(items) >= env.Count) {
			break
		}

		offset += len(page)
	}

	c.logger.Info("listed children complete",
		slog.String("dir_id", dirID),
		slog.Int("total_items", len(items)),
	)

	return items, nil
}

// GetItem retrieves a single item by its identifier.
// The root directory ("0") cannot be queried — callers synthesize it.
func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	c.logger.Info("getting item", slog.String("item_id", id))

	return c.fetchInfo(ctx, url.Values{"file_id": {id}})
}

// GetItemByPath retrieves an item by its absolute remote path.
func (c *Client) GetItemByPath(ctx context.Context, remotePath string) (*Item, error) {
	c.logger.Info("getting item by path", slog.String("path", remotePath))

	return c.fetchInfo(ctx, url.Values{"path": {remotePath}})
}

// fetchInfo fetches item details from the get_info endpoint and decodes
// them. Shared by GetItem (ID-based) and GetItemByPath (path-based).
func (c *Client) fetchInfo(ctx context.Context, params url.Values) (*Item, error) {
	env, err := c.call(ctx, http.MethodGet, "/open/folder/get_info", params)
	if err != nil {
		return nil, err
	}

	var info infoResponse
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return nil, fmt.Errorf("pan: decoding item info: %w", err)
	}

	if info.FileID == "" {
		return nil, &APIError{Code: env.Code, Message: "item has no identifier", Err: ErrNotFound}
	}

	item := info.toItem()

	return &item, nil
}

// CreateFolder creates a directory under the given parent and returns it.
// The service rejects duplicate names in the same parent; that surfaces as
// an *APIError which callers resolve by re-listing.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	params := url.Values{
		"pid":       {parentID},
		"file_name": {name},
	}

	env, err := c.call(ctx, http.MethodPost, "/open/folder/add", params)
	if err != nil {
		return nil, err
	}

	var created struct {
		FileID   flexString `json:"file_id"`
		FileName string     `json:"file_name"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		return nil, fmt.Errorf("pan: decoding create folder response: %w", err)
	}

	if created.FileID == "" {
		return nil, fmt.Errorf("pan: create folder returned no identifier: %w", ErrEmptyPayload)
	}

	name = created.FileName
	if name == "" {
		name = params.Get("file_name")
	}

	return &Item{
		ID:       string(created.FileID),
		ParentID: parentID,
		Name:     name,
		IsFolder: true,
	}, nil
}

// MoveItems moves files or directories into the given directory.
// RootID is a valid destination.
func (c *Client) MoveItems(ctx context.Context, dirID string, ids ...string) error {
	c.logger.Info("moving items",
		slog.Int("count", len(ids)),
		slog.String("to_dir", dirID),
	)

	params := url.Values{
		"file_ids": {strings.Join(ids, ",")},
		"to_cid":   {dirID},
	}

	_, err := c.call(ctx, http.MethodPost, "/open/ufile/move", params)

	return err
}

// CopyItems copies files or directories into the given directory. The
// copy endpoint takes different parameter names than move.
func (c *Client) CopyItems(ctx context.Context, dirID string, ids ...string) error {
	c.logger.Info("copying items",
		slog.Int("count", len(ids)),
		slog.String("to_dir", dirID),
	)

	params := url.Values{
		"pid":     {dirID},
		"file_id": {strings.Join(ids, ",")},
	}

	_, err := c.call(ctx, http.MethodPost, "/open/ufile/copy", params)

	return err
}

// RenameItem gives a file or directory a new name in place.
func (c *Client) RenameItem(ctx context.Context, id, name string) error {
	c.logger.Info("renaming item",
		slog.String("item_id", id),
		slog.String("name", name),
	)

	params := url.Values{
		"file_id":   {id},
		"file_name": {name},
	}

	_, err := c.call(ctx, http.MethodPost, "/open/ufile/update", params)

	return err
}

// DeleteItems deletes files or directories (to the recycle bin).
func (c *Client) DeleteItems(ctx context.Context, ids ...string) error {
	c.logger.Info("deleting items", slog.Int("count", len(ids)))

	params := url.Values{"file_ids": {strings.Join(ids, ",")}}

	_, err := c.call(ctx, http.MethodPost, "/open/ufile/delete", params)

	return err
}

// UserInfo fetches the authenticated account's profile.
func (c *Client) UserInfo(ctx context.Context) (*User, error) {
	env, err := c.call(ctx, http.MethodGet, "/open/user/info", nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		UserID    flexString `json:"user_id"`
		UserName  string     `json:"user_name"`
		SpaceInfo struct {
			AllTotal struct {
				Size int64 `json:"size"`
			} `json:"all_total"`
		} `json:"rt_space_info"`
		VIPInfo struct {
			LevelName string `json:"level_name"`
		} `json:"vip_info"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("pan: decoding user info: %w", err)
	}

	if data.UserID == "" || data.UserName == "" {
		return nil, fmt.Errorf("pan: user info missing required fields: %w", ErrEmptyPayload)
	}

	return &User{
		ID:    string(data.UserID),
		Name:  data.UserName,
		IsVIP: data.VIPInfo.LevelName != "" && data.VIPInfo.LevelName != "原石用户",
		Space: data.SpaceInfo.AllTotal.Size,
	}, nil
}
