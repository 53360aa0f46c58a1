package model

import "time"

// VersionChain is the full view of a document: the record itself plus its
// ordered version history and signer roster. Versions are oldest first.
//
// The head pointer is derived state: after every successful mutation it
// must equal the item id of the last version. Consistent reports that.
type VersionChain struct {
	Document Document  `json:"document"`
	Versions []Version `json:"versions"`
	Signers  []Signer  `json:"signers"`
}

// Head returns the current head item id.
func (c *VersionChain) Head() string {
	return c.Document.HeadItemID
}

// NextVersion is the position the next appended version will take.
func (c *VersionChain) NextVersion() int {
	return len(c.Versions) + 1
}

// Consistent reports whether the head pointer agrees with the version
// list. An empty chain is consistent with whatever original item the
// document was created from.
func (c *VersionChain) Consistent() bool {
	if len(c.Versions) == 0 {
		return true
	}
	return c.Document.HeadItemID == c.Versions[len(c.Versions)-1].ItemID
}

// SigningSession is the ephemeral record of one signing attempt. It
// captures the head observed when the signer started; comparing that
// against the live head at append time is the whole concurrency check.
type SigningSession struct {
	ID                string    `json:"id"`
	DocumentID        string    `json:"document_id"`
	StartedFromItemID string    `json:"started_from_item_id"`
	SignerEmail       string    `json:"signer_email"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// UploadSession describes an in-flight chunked upload. Created per
// attempt and never reused across documents.
type UploadSession struct {
	ID             string    `json:"id"`
	UploadURL      string    `json:"upload_url"`
	TotalBytes     int64     `json:"total_bytes"`
	BytesConfirmed int64     `json:"bytes_confirmed"`
	ExpiresAt      time.Time `json:"expires_at"`
}
