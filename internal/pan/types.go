package pan

import "time"

// RootID is the identifier of the drive's root directory.
const RootID = "0"

// Item represents a remote file or directory. Fields are normalized from
// the API's abbreviated JSON — callers never see raw response data.
type Item struct {
	ID         string
	ParentID   string
	Name       string
	Size       int64
	IsFolder   bool
	PickCode   string // download ticket; empty for folders
	SHA1       string // hex, uppercase; empty for folders
	ModifiedAt time.Time
}

// User holds the subset of account information the CLI displays.
type User struct {
	ID    string
	Name  string
	IsVIP bool
	Space int64 // total space in bytes, 0 if not reported
}
