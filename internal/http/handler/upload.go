package handler

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"lexsign/internal/upload"
)

func mapUploadError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, upload.ErrSessionExpired):
		return writeError(c, fiber.StatusGone, "EXPIRED", "upload session expired; reopen and restart")
	case errors.Is(err, upload.ErrRangeMismatch):
		return writeError(c, fiber.StatusBadRequest, "RANGE_MISMATCH", "chunk range is not contiguous; reopen the session")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// parseContentRange reads "bytes start-end/total" from the request.
func parseContentRange(header string) (start, end, total int64, err error) {
	if _, err = fmt.Sscanf(header, "bytes %d-%d/%d", &start, &end, &total); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed content range %q", header)
	}
	return start, end, total, nil
}

// PutChunk submits one byte range of an open upload session. The final
// chunk's response carries the new external item id.
func PutChunk(mgr *upload.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start, end, _, err := parseContentRange(c.Get("Content-Range"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_RANGE", "Content-Range must be bytes start-end/total")
		}
		ack, err := mgr.PutChunk(c.UserContext(), c.Params("sessionId"), start, end, c.Body())
		if err != nil {
			return mapUploadError(c, err)
		}
		return c.JSON(ack)
	}
}

// UploadProgress reports how far a session has gotten, for resuming.
func UploadProgress(mgr *upload.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := mgr.Progress(c.Params("sessionId"))
		if err != nil {
			return mapUploadError(c, err)
		}
		return c.JSON(sess)
	}
}

// AbandonUpload discards a session; no external object is created.
func AbandonUpload(mgr *upload.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mgr.Abandon(c.UserContext(), c.Params("sessionId"))
		return c.SendStatus(fiber.StatusNoContent)
	}
}
