package p123

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	listPageSize = 100

	// lastPageMarker is the Next value of the final listing page.
	lastPageMarker = "-1"
)

// ListFiles returns every entry directly inside the folder parentID,
// following pagination until the API reports the last page.
func (c *Client) ListFiles(ctx context.Context, parentID int64) ([]File, error) {
	var files []File
	next := "0"

	for page := 1; ; page++ {
		query := url.Values{
			"driveId":        {"0"},
			"limit":          {strconv.Itoa(listPageSize)},
			"next":           {next},
			"orderBy":        {"file_name"},
			"orderDirection": {"asc"},
			"parentFileId":   {strconv.FormatInt(parentID, 10)},
			"trashed":        {"false"},
			"Page":           {strconv.Itoa(page)},
		}
		endpoint := c.baseURL + "/api/file/list/new?" + query.Encode()

		var data fileListData
		err := c.doAuthed(ctx, func() (*retryablehttp.Request, error) {
			return retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		}, &data)
		if err != nil {
			return nil, fmt.Errorf("listing folder %d: %w", parentID, err)
		}

		files = append(files, data.InfoList...)
		if data.Next == lastPageMarker || data.Next == "" || len(data.InfoList) == 0 {
			return files, nil
		}
		if data.Next == next {
			slog.WarnContext(ctx, "listing cursor did not advance, stopping", "folder", parentID, "page", page, "next", next)
			return files, nil
		}
		next = data.Next
	}
}

// DownloadURL returns a short-lived URL serving the content of f.
func (c *Client) DownloadURL(ctx context.Context, f File) (string, error) {
	body, err := json.Marshal(downloadInfoRequest{
		DriveID:   0,
		Etag:      f.Etag,
		FileID:    f.FileID,
		FileName:  f.FileName,
		S3KeyFlag: f.S3KeyFlag,
		Size:      f.Size,
		Type:      f.Type,
	})
	if err != nil {
		return "", fmt.Errorf("p123: encoding download request: %w", err)
	}

	var data downloadInfoData
	err = c.doAuthed(ctx, func() (*retryablehttp.Request, error) {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/file/download_info", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &data)
	if err != nil {
		return "", fmt.Errorf("download info for %q: %w", f.FileName, err)
	}
	if data.DownloadURL == "" {
		return "", fmt.Errorf("download info for %q: %w: empty download url", f.FileName, ErrUnexpected)
	}
	return data.DownloadURL, nil
}

// Download opens the content at downloadURL starting at byte offset.
// The caller closes the returned reader.
func (c *Client) Download(ctx context.Context, downloadURL string, offset int64) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("p123: creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := c.retryClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("p123: downloading: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusOK:
		// Range ignored by the server: skip ahead locally.
		if offset > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				_ = resp.Body.Close()
				return nil, fmt.Errorf("p123: skipping to offset %d: %w", offset, err)
			}
		}
		return resp.Body, nil
	default:
		_ = resp.Body.Close()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Err:        classify(resp.StatusCode, 0, ""),
		}
	}
}
