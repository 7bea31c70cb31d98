package p123

import (
	"encoding/json"
	"time"
)

// envelope is the common response wrapper of the 123pan web API.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// File types reported in the Type field of a listing entry.
const (
	FileTypeFile   = 0
	FileTypeFolder = 1
)

// RootFolderID is the parent ID of entries at the top of a drive.
const RootFolderID int64 = 0

// File is a single entry of a folder listing.
type File struct {
	FileID    int64  `json:"FileId"`
	FileName  string `json:"FileName"`
	Type      int    `json:"Type"`
	Size      int64  `json:"Size"`
	Etag      string `json:"Etag"`
	S3KeyFlag string `json:"S3KeyFlag"`
	UpdateAt  string `json:"UpdateAt"`
}

// ModTime parses UpdateAt, returning the zero time if it is absent or malformed.
func (f File) ModTime() time.Time {
	t, err := time.Parse(time.RFC3339, f.UpdateAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsFolder reports whether the entry is a folder.
func (f File) IsFolder() bool {
	return f.Type == FileTypeFolder
}

// UserInfo is the identity returned for a valid token.
type UserInfo struct {
	UID      int64  `json:"UID"`
	Nickname string `json:"Nickname"`
	Passport int64  `json:"Passport"`
}

type signInRequest struct {
	Passport string `json:"passport"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type signInData struct {
	Token string `json:"token"`
}

type fileListData struct {
	Next     string `json:"Next"`
	Total    int    `json:"Total"`
	InfoList []File `json:"InfoList"`
}

type downloadInfoRequest struct {
	DriveID   int    `json:"driveId"`
	Etag      string `json:"etag"`
	FileID    int64  `json:"fileId"`
	FileName  string `json:"fileName"`
	S3KeyFlag string `json:"s3keyFlag"`
	Size      int64  `json:"size"`
	Type      int    `json:"type"`
}

type downloadInfoData struct {
	DownloadURL string `json:"DownloadUrl"`
}
