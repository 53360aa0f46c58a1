package handler

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"lexsign/internal/model"
	"lexsign/internal/repository"
	"lexsign/internal/service"
	"lexsign/internal/signing"
	"lexsign/internal/stamp"
)

// mapDocumentError translates service errors into the response envelope.
// Conflict (head mismatch) is the one status the client retry loop keys
// on; everything else is terminal for the attempt.
func mapDocumentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, repository.ErrHeadMismatch):
		return writeError(c, fiber.StatusConflict, "CONFLICT", "document head has moved; re-read and retry")
	case errors.Is(err, service.ErrIntegrity):
		return writeError(c, fiber.StatusUnprocessableEntity, "INTEGRITY", "uploaded content does not match the submitted hash")
	case errors.Is(err, service.ErrNotPublished):
		return writeError(c, fiber.StatusUnprocessableEntity, "NOT_PUBLISHED", "document is not published for signing")
	case errors.Is(err, service.ErrNotOnRoster):
		return writeError(c, fiber.StatusUnprocessableEntity, "NOT_ON_ROSTER", "signer is not on the document's roster")
	case errors.Is(err, signing.ErrTooManyConflicts):
		// Deliberately not 409: the retry budget is spent, the client
		// must not loop again.
		return writeError(c, fiber.StatusUnprocessableEntity, "TOO_MANY_CONFLICTS", "too many concurrent edits, reload and try again")
	case errors.Is(err, stamp.ErrBadPDF), errors.Is(err, stamp.ErrBadImage), errors.Is(err, stamp.ErrPageOutOfRange):
		return writeError(c, fiber.StatusUnprocessableEntity, "UNPROCESSABLE", "cannot composite signature onto this document")
	case errors.Is(err, service.ErrIDRequired), errors.Is(err, service.ErrReaderNil):
		return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "invalid request")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func parseDocumentID(c *fiber.Ctx) (string, bool) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// CreateDocument registers a new document from an uploaded file
// (multipart field "file") with its signer roster (field "signers", a
// JSON array).
func CreateDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}
		matterID := c.FormValue("matter_id")
		if matterID == "" {
			return writeError(c, fiber.StatusBadRequest, "MATTER_REQUIRED", "matter_id is required")
		}

		var signers []model.Signer
		if raw := c.FormValue("signers"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &signers); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_SIGNERS", "signers must be a JSON array")
			}
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/pdf"
		}

		chain, err := svc.Create(c.UserContext(), f, matterID, fh.Filename, ct, fh.Size, signers)
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(chain)
	}
}

// GetDocument returns a document with its full chain and roster.
func GetDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		chain, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.JSON(chain)
	}
}

// ListDocuments lists a matter's documents with limit/offset.
func ListDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		matterID := c.Query("matter_id")
		if matterID == "" {
			return writeError(c, fiber.StatusBadRequest, "MATTER_REQUIRED", "matter_id is required")
		}
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.ListByMatter(c.UserContext(), matterID, limit, offset)
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.JSON(res)
	}
}

// PublishDocument makes a draft signable.
func PublishDocument(svc service.DocumentService) fiber.Handler {
	return setStatusHandler(func(c *fiber.Ctx, id string) (*model.Document, error) {
		return svc.Publish(c.UserContext(), id, actorFrom(c))
	})
}

// UnpublishDocument retracts a document; in-flight signing sessions are
// voided so nothing stale can finalize.
func UnpublishDocument(svc service.DocumentService) fiber.Handler {
	return setStatusHandler(func(c *fiber.Ctx, id string) (*model.Document, error) {
		return svc.Unpublish(c.UserContext(), id, actorFrom(c))
	})
}

func setStatusHandler(op func(c *fiber.Ctx, id string) (*model.Document, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		doc, err := op(c, id)
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.JSON(doc)
	}
}

// actorFrom identifies the internal user for audit rows. Authentication
// is out of scope; the upstream proxy injects the header.
func actorFrom(c *fiber.Ctx) string {
	if v := c.Get("X-Actor-Email"); v != "" {
		return v
	}
	return "unknown"
}

// InitiateUpload hands out a presigned single-PUT upload for the next
// version.
func InitiateUpload(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var req struct {
			FileName string `json:"fileName"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
			}
		}
		up, err := svc.InitiateUpload(c.UserContext(), id, req.FileName)
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.JSON(fiber.Map{"uploadUrl": up.UploadURL, "filePath": up.FilePath})
	}
}

// OpenUploadSession starts a chunked upload for the document's next
// version, for clients that cannot do a single PUT.
func OpenUploadSession(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var req struct {
			FileName   string `json:"fileName"`
			TotalBytes int64  `json:"totalBytes"`
		}
		if err := c.BodyParser(&req); err != nil || req.TotalBytes <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "fileName and totalBytes are required")
		}
		sess, err := svc.OpenUploadSession(c.UserContext(), id, req.FileName, req.TotalBytes)
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	}
}

// DownloadLink hands out a time-boxed presigned GET for the head object.
func DownloadLink(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		url, err := svc.DownloadLink(c.UserContext(), id)
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.JSON(fiber.Map{"downloadUrl": url})
	}
}

// StartSigningSession opens a signing attempt, capturing the head the
// signer starts from.
func StartSigningSession(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var req struct {
			SignerEmail string `json:"signerEmail"`
		}
		if err := c.BodyParser(&req); err != nil || req.SignerEmail == "" {
			return writeError(c, fiber.StatusBadRequest, "SIGNER_REQUIRED", "signerEmail is required")
		}
		sess, err := svc.StartSession(c.UserContext(), id, req.SignerEmail)
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	}
}

// UpdateSigned appends a signed rendition as the next version. Returns
// 409 when the head moved since the signer's optimistic read.
func UpdateSigned(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var req struct {
			DriveItemID  string `json:"driveItemId"`
			SourceItemID string `json:"sourceItemId"`
			FileHash     string `json:"fileHash"`
			SignerEmail  string `json:"signerEmail"`
			SessionID    string `json:"sessionId"`
		}
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if req.DriveItemID == "" || req.SourceItemID == "" {
			return writeError(c, fiber.StatusBadRequest, "ITEM_IDS_REQUIRED", "driveItemId and sourceItemId are required")
		}

		chain, err := svc.UpdateSigned(c.UserContext(), id, service.UpdateSignedInput{
			DriveItemID:  req.DriveItemID,
			SourceItemID: req.SourceItemID,
			FileHash:     req.FileHash,
			SignerEmail:  req.SignerEmail,
			SessionID:    req.SessionID,
		})
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.JSON(chain)
	}
}

// SignDocument composites the signature image onto the current head
// server-side and appends the result, retrying internally when another
// signer lands first. Multipart: the image in field "signature",
// placement in point-space form values.
func SignDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		fh, err := c.FormFile("signature")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "SIGNATURE_REQUIRED", "signature image is required")
		}
		signerEmail := c.FormValue("signerEmail")
		if signerEmail == "" {
			return writeError(c, fiber.StatusBadRequest, "SIGNER_REQUIRED", "signerEmail is required")
		}

		x, errX := strconv.ParseFloat(c.FormValue("x", "0"), 64)
		y, errY := strconv.ParseFloat(c.FormValue("y", "0"), 64)
		width, errW := strconv.ParseFloat(c.FormValue("width", "120"), 64)
		page, errP := strconv.Atoi(c.FormValue("page", "0"))
		if errX != nil || errY != nil || errW != nil || errP != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PLACEMENT", "x, y, width and page must be numbers")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		img, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_READ_ERROR", "cannot read uploaded file")
		}

		chain, err := svc.Sign(c.UserContext(), id, service.SignInput{
			SignatureImage: img,
			X:              x,
			Y:              y,
			Width:          width,
			PageIndex:      page,
			SignerName:     c.FormValue("signerName"),
			SignerEmail:    signerEmail,
			SessionID:      c.FormValue("sessionId"),
			IncludeStamp:   c.FormValue("includeStamp", "true") != "false",
		})
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.JSON(chain)
	}
}

// RevertVersion truncates the chain back to the target version. The
// path parameter is the version position; item ids are storage keys and
// do not survive as path segments.
func RevertVersion(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		position, err := strconv.Atoi(c.Params("versionId"))
		if err != nil || position < 1 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_VERSION", "version must be a positive number")
		}

		chain, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return mapDocumentError(c, err)
		}
		var target string
		for _, v := range chain.Versions {
			if v.Position == position {
				target = v.ItemID
				break
			}
		}
		if target == "" {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "version not found")
		}

		reverted, err := svc.Revert(c.UserContext(), id, target, actorFrom(c))
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.JSON(reverted)
	}
}

// InviteGuest issues a guest signing token for a roster member and
// triggers the first OTP email.
func InviteGuest(svc service.GuestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseDocumentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		var req struct {
			SignerEmail string `json:"signerEmail"`
		}
		if err := c.BodyParser(&req); err != nil || req.SignerEmail == "" {
			return writeError(c, fiber.StatusBadRequest, "SIGNER_REQUIRED", "signerEmail is required")
		}
		token, err := svc.Invite(c.UserContext(), id, req.SignerEmail)
		if err != nil {
			return mapDocumentError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"token": token})
	}
}
