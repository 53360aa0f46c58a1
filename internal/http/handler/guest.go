package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"lexsign/internal/guest"
	"lexsign/internal/repository"
	"lexsign/internal/service"
)

// mapGuestError keeps the guest surface deliberately uninformative: an
// unknown token, an expired token and a token for another document all
// produce the same UNAUTHORIZED envelope.
func mapGuestError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, guest.ErrInvalidToken), errors.Is(err, guest.ErrNotVerified):
		return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
	case errors.Is(err, guest.ErrInvalidCode):
		return writeError(c, fiber.StatusUnauthorized, "INVALID_CODE", "invalid verification code")
	case errors.Is(err, repository.ErrHeadMismatch):
		return writeError(c, fiber.StatusConflict, "CONFLICT", "document head has moved; re-read and retry")
	case errors.Is(err, service.ErrIntegrity):
		return writeError(c, fiber.StatusUnprocessableEntity, "INTEGRITY", "uploaded content does not match the submitted hash")
	case errors.Is(err, service.ErrNotPublished):
		return writeError(c, fiber.StatusUnprocessableEntity, "NOT_PUBLISHED", "document is not available for signing")
	case errors.Is(err, service.ErrNotFound):
		// The document behind a live token is gone; still no detail.
		return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

type tokenBody struct {
	Token string `json:"token"`
}

// GuestSendOTP re-sends the one-time code and returns the signing-screen
// metadata: masked email, current head and next version number.
func GuestSendOTP(svc service.GuestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req tokenBody
		if err := c.BodyParser(&req); err != nil || req.Token == "" {
			return writeError(c, fiber.StatusBadRequest, "TOKEN_REQUIRED", "token is required")
		}
		meta, err := svc.SendOTP(c.UserContext(), req.Token)
		if err != nil {
			return mapGuestError(c, err)
		}
		return c.JSON(meta)
	}
}

// GuestVerify checks the one-time code.
func GuestVerify(svc service.GuestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Token string `json:"token"`
			OTP   string `json:"otp"`
		}
		if err := c.BodyParser(&req); err != nil || req.Token == "" || req.OTP == "" {
			return writeError(c, fiber.StatusBadRequest, "TOKEN_REQUIRED", "token and otp are required")
		}
		if err := svc.Verify(c.UserContext(), req.Token, req.OTP); err != nil {
			return mapGuestError(c, err)
		}
		return c.JSON(fiber.Map{"verified": true})
	}
}

// GuestDownloadLink returns a time-boxed URL for the document the token
// is scoped to.
func GuestDownloadLink(svc service.GuestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		url, err := svc.DownloadLink(c.UserContext(), c.Params("token"))
		if err != nil {
			return mapGuestError(c, err)
		}
		return c.JSON(fiber.Map{"downloadUrl": url})
	}
}

// GuestUploadURL returns a presigned PUT for the guest's signed bytes.
func GuestUploadURL(svc service.GuestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			FileName string `json:"fileName"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
			}
		}
		up, err := svc.UploadURL(c.UserContext(), c.Params("token"), req.FileName)
		if err != nil {
			return mapGuestError(c, err)
		}
		return c.JSON(fiber.Map{"uploadUrl": up.UploadURL, "filePath": up.FilePath})
	}
}

// GuestOpenUploadSession starts a chunked upload for the guest's signed
// bytes.
func GuestOpenUploadSession(svc service.GuestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			FileName   string `json:"fileName"`
			TotalBytes int64  `json:"totalBytes"`
		}
		if err := c.BodyParser(&req); err != nil || req.TotalBytes <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "fileName and totalBytes are required")
		}
		sess, err := svc.OpenUploadSession(c.UserContext(), c.Params("token"), req.FileName, req.TotalBytes)
		if err != nil {
			return mapGuestError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	}
}

// GuestFinalize appends the guest's signed version; 409 means another
// signer got there first and the guest should re-read metadata and
// retry.
func GuestFinalize(svc service.GuestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			DriveItemID  string `json:"driveItemId"`
			SourceItemID string `json:"sourceItemId"`
			FileHash     string `json:"fileHash"`
		}
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if req.DriveItemID == "" || req.SourceItemID == "" {
			return writeError(c, fiber.StatusBadRequest, "ITEM_IDS_REQUIRED", "driveItemId and sourceItemId are required")
		}

		ack, err := svc.Finalize(c.UserContext(), c.Params("token"), service.FinalizeInput{
			DriveItemID:  req.DriveItemID,
			SourceItemID: req.SourceItemID,
			FileHash:     req.FileHash,
		})
		if err != nil {
			return mapGuestError(c, err)
		}
		return c.JSON(ack)
	}
}

// GuestMetadata is the conflict-recovery read.
func GuestMetadata(svc service.GuestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		meta, err := svc.Metadata(c.UserContext(), c.Params("token"))
		if err != nil {
			return mapGuestError(c, err)
		}
		return c.JSON(meta)
	}
}

// GuestDecline records the refusal and invalidates the token.
func GuestDecline(svc service.GuestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Decline(c.UserContext(), c.Params("token")); err != nil {
			return mapGuestError(c, err)
		}
		return c.JSON(fiber.Map{"declined": true})
	}
}
