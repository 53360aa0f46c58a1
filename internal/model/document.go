package model

import "time"

// DocumentStatus is the lifecycle state of a document. Only published
// documents are signable.
type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusPublished DocumentStatus = "published"
	StatusSigned    DocumentStatus = "signed"
)

// Document is the application-side record of an externally stored file.
// The bytes themselves live in the object store; the row only carries
// metadata and the head pointer into the version chain.
type Document struct {
	ID         string         `json:"id"`
	MatterID   string         `json:"matter_id"`
	Filename   string         `json:"filename"`
	HeadItemID string         `json:"head_item_id"`
	Status     DocumentStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Version is one entry in a document's version chain. Immutable once
// created; the chain only grows by appending, or shrinks through an
// audited revert.
type Version struct {
	ItemID    string    `json:"item_id"`
	Filename  string    `json:"filename"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// SignerStatus tracks where a signer is in the flow.
type SignerStatus string

const (
	SignerPending  SignerStatus = "pending"
	SignerSigned   SignerStatus = "signed"
	SignerDeclined SignerStatus = "declined"
)

// Signer is a member of the document's signer roster. The roster is not
// versioned: it reflects current state regardless of which physical
// version a signature landed on. Order is a display hint, not an
// enforced signing sequence.
type Signer struct {
	Name     string       `json:"name"`
	Email    string       `json:"email"`
	Status   SignerStatus `json:"status"`
	Order    int          `json:"order"`
	SignedAt *time.Time   `json:"signed_at,omitempty"`
}
