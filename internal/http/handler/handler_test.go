package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lexsign/internal/guest"
	"lexsign/internal/model"
	"lexsign/internal/repository"
	"lexsign/internal/service"
	serviceMocks "lexsign/internal/service/mocks"
	"lexsign/internal/signing"
	storeMocks "lexsign/internal/storage/mocks"
	"lexsign/internal/upload"
)

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := fiber.New()
	app.Get("/health", HealthCheck(db))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	})
}

func TestGetDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/documents/:id", GetDocument(mockSvc))
	id := uuid.New().String()

	t.Run("success", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, id).Return(&model.VersionChain{
			Document: model.Document{ID: id, HeadItemID: "h0"},
		}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents/"+id, nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var chain model.VersionChain
		json.NewDecoder(resp.Body).Decode(&chain)
		assert.Equal(t, "h0", chain.Document.HeadItemID)
	})

	t.Run("invalid id", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, id).Return(nil, service.ErrNotFound).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents/"+id, nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestUpdateSigned(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/documents/:id/update-signed", UpdateSigned(mockSvc))
	id := uuid.New().String()

	payload := fiber.Map{
		"driveItemId":  "documents/d/v2.pdf",
		"sourceItemId": "documents/d/v1.pdf",
		"fileHash":     "sha256:abcd",
		"signerEmail":  "ann@firm.example",
	}

	t.Run("success", func(t *testing.T) {
		mockSvc.On("UpdateSigned", mock.Anything, id, service.UpdateSignedInput{
			DriveItemID:  "documents/d/v2.pdf",
			SourceItemID: "documents/d/v1.pdf",
			FileHash:     "sha256:abcd",
			SignerEmail:  "ann@firm.example",
		}).Return(&model.VersionChain{
			Document: model.Document{ID: id, HeadItemID: "documents/d/v2.pdf"},
		}, nil).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/documents/"+id+"/update-signed", payload))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("conflict maps to 409", func(t *testing.T) {
		mockSvc.On("UpdateSigned", mock.Anything, id, mock.Anything).
			Return(nil, repository.ErrHeadMismatch).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/documents/"+id+"/update-signed", payload))
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "CONFLICT", body.Error.Code)
	})

	t.Run("integrity failure maps to 422", func(t *testing.T) {
		mockSvc.On("UpdateSigned", mock.Anything, id, mock.Anything).
			Return(nil, service.ErrIntegrity).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/documents/"+id+"/update-signed", payload))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "INTEGRITY", body.Error.Code)
	})

	t.Run("missing item ids", func(t *testing.T) {
		resp, _ := app.Test(jsonRequest(http.MethodPost, "/documents/"+id+"/update-signed",
			fiber.Map{"fileHash": "sha256:abcd"}))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRevertVersion(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/documents/:id/versions/:versionId/revert", RevertVersion(mockSvc))
	id := uuid.New().String()

	chain := &model.VersionChain{
		Document: model.Document{ID: id, HeadItemID: "documents/d/v3.pdf"},
		Versions: []model.Version{
			{ItemID: "documents/d/v1.pdf", Position: 1},
			{ItemID: "documents/d/v2.pdf", Position: 2},
			{ItemID: "documents/d/v3.pdf", Position: 3},
		},
	}

	t.Run("resolves position to item id", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, id).Return(chain, nil).Once()
		mockSvc.On("Revert", mock.Anything, id, "documents/d/v2.pdf", "unknown").
			Return(&model.VersionChain{
				Document: model.Document{ID: id, HeadItemID: "documents/d/v2.pdf"},
				Versions: chain.Versions[:2],
			}, nil).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/documents/"+id+"/versions/2/revert", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("unknown position", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, id).Return(chain, nil).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/documents/"+id+"/versions/9/revert", nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestGuestEndpoints(t *testing.T) {
	mockSvc := new(serviceMocks.MockGuestService)
	app := fiber.New()
	app.Post("/guest/send-otp", GuestSendOTP(mockSvc))
	app.Post("/guest/verify", GuestVerify(mockSvc))
	app.Get("/guest/documents/:token/metadata", GuestMetadata(mockSvc))
	app.Post("/guest/documents/:token/finalize", GuestFinalize(mockSvc))
	app.Post("/guest/documents/:token/decline", GuestDecline(mockSvc))

	t.Run("send-otp returns masked metadata", func(t *testing.T) {
		mockSvc.On("SendOTP", mock.Anything, "tok-1").Return(&service.GuestMetadata{
			MaskedEmail: "j***@client.example",
			NextVersion: 2,
			HeadItemID:  "documents/d/v1.pdf",
		}, nil).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/guest/send-otp", fiber.Map{"token": "tok-1"}))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var meta service.GuestMetadata
		json.NewDecoder(resp.Body).Decode(&meta)
		assert.Equal(t, "j***@client.example", meta.MaskedEmail)
		assert.Equal(t, 2, meta.NextVersion)
	})

	t.Run("every token failure is the same envelope", func(t *testing.T) {
		mockSvc.On("Metadata", mock.Anything, "bad").Return(nil, guest.ErrInvalidToken).Once()
		mockSvc.On("Metadata", mock.Anything, "unverified").Return(nil, guest.ErrNotVerified).Once()

		for _, token := range []string{"bad", "unverified"} {
			resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/guest/documents/"+token+"/metadata", nil))
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var body errorPayload
			json.NewDecoder(resp.Body).Decode(&body)
			assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
			assert.Equal(t, "invalid or expired token", body.Error.Message)
		}
	})

	t.Run("wrong otp", func(t *testing.T) {
		mockSvc.On("Verify", mock.Anything, "tok-1", "000000").Return(guest.ErrInvalidCode).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/guest/verify",
			fiber.Map{"token": "tok-1", "otp": "000000"}))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("finalize conflict maps to 409", func(t *testing.T) {
		mockSvc.On("Finalize", mock.Anything, "tok-1", service.FinalizeInput{
			DriveItemID:  "documents/d/v2.pdf",
			SourceItemID: "documents/d/v1.pdf",
			FileHash:     "sha256:abcd",
		}).Return(nil, repository.ErrHeadMismatch).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/guest/documents/tok-1/finalize", fiber.Map{
			"driveItemId":  "documents/d/v2.pdf",
			"sourceItemId": "documents/d/v1.pdf",
			"fileHash":     "sha256:abcd",
		}))
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "CONFLICT", body.Error.Code)
	})

	t.Run("finalize success acknowledges only the committed version", func(t *testing.T) {
		mockSvc.On("Finalize", mock.Anything, "tok-1", service.FinalizeInput{
			DriveItemID:  "documents/d/v2.pdf",
			SourceItemID: "documents/d/v1.pdf",
			FileHash:     "sha256:abcd",
		}).Return(&service.FinalizeAck{HeadItemID: "documents/d/v2.pdf", Version: 2}, nil).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/guest/documents/tok-1/finalize", fiber.Map{
			"driveItemId":  "documents/d/v2.pdf",
			"sourceItemId": "documents/d/v1.pdf",
			"fileHash":     "sha256:abcd",
		}))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "documents/d/v2.pdf", body["head_item_id"])
		assert.Equal(t, float64(2), body["version"])
		// The roster and matter stay inside the firm.
		assert.NotContains(t, body, "signers")
		assert.NotContains(t, body, "document")
	})

	t.Run("decline", func(t *testing.T) {
		mockSvc.On("Decline", mock.Anything, "tok-1").Return(nil).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/guest/documents/tok-1/decline", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestPutChunk(t *testing.T) {
	mStore := new(storeMocks.MockStorage)
	mgr := upload.NewManager(mStore, 15*time.Minute)
	app := fiber.New()
	app.Put("/upload-sessions/:sessionId/chunks", PutChunk(mgr))

	t.Run("malformed content range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/upload-sessions/s1/chunks", bytes.NewReader([]byte("xx")))
		req.Header.Set("Content-Range", "garbage")
		resp, _ := app.Test(req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown session is expired", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/upload-sessions/s1/chunks", bytes.NewReader([]byte("xx")))
		req.Header.Set("Content-Range", "bytes 0-1/2")
		resp, _ := app.Test(req)
		assert.Equal(t, http.StatusGone, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "EXPIRED", body.Error.Code)
	})
}

func TestStartSigningSession(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/documents/:id/sessions", StartSigningSession(mockSvc))
	id := uuid.New().String()

	t.Run("captures head", func(t *testing.T) {
		mockSvc.On("StartSession", mock.Anything, id, "ann@firm.example").
			Return(&model.SigningSession{ID: "sess-1", StartedFromItemID: "h0"}, nil).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/documents/"+id+"/sessions",
			fiber.Map{"signerEmail": "ann@firm.example"}))
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var sess model.SigningSession
		json.NewDecoder(resp.Body).Decode(&sess)
		assert.Equal(t, "h0", sess.StartedFromItemID)
	})

	t.Run("draft rejected", func(t *testing.T) {
		mockSvc.On("StartSession", mock.Anything, id, "ann@firm.example").
			Return(nil, service.ErrNotPublished).Once()

		resp, _ := app.Test(jsonRequest(http.MethodPost, "/documents/"+id+"/sessions",
			fiber.Map{"signerEmail": "ann@firm.example"}))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestSignDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/documents/:id/sign", SignDocument(mockSvc))
	id := uuid.New().String()

	signRequest := func(fields map[string]string, withImage bool) *http.Request {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if withImage {
			fw, _ := w.CreateFormFile("signature", "signature.png")
			fw.Write([]byte("png bytes"))
		}
		for k, v := range fields {
			w.WriteField(k, v)
		}
		w.Close()
		req := httptest.NewRequest(http.MethodPost, "/documents/"+id+"/sign", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req
	}

	fields := map[string]string{
		"signerEmail": "ann@firm.example",
		"signerName":  "Ann Pryor",
		"sessionId":   "sess-1",
		"x":           "100",
		"y":           "180",
		"width":       "120",
		"page":        "0",
	}

	t.Run("success", func(t *testing.T) {
		mockSvc.On("Sign", mock.Anything, id, mock.MatchedBy(func(in service.SignInput) bool {
			return string(in.SignatureImage) == "png bytes" &&
				in.SignerEmail == "ann@firm.example" &&
				in.X == 100 && in.Width == 120 &&
				in.SessionID == "sess-1" && in.IncludeStamp
		})).Return(&model.VersionChain{
			Document: model.Document{ID: id, HeadItemID: "documents/d/v2.pdf"},
		}, nil).Once()

		resp, _ := app.Test(signRequest(fields, true))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("exhausted retries map to 422", func(t *testing.T) {
		mockSvc.On("Sign", mock.Anything, id, mock.Anything).
			Return(nil, signing.ErrTooManyConflicts).Once()

		resp, _ := app.Test(signRequest(fields, true))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "TOO_MANY_CONFLICTS", body.Error.Code)
	})

	t.Run("missing image", func(t *testing.T) {
		resp, _ := app.Test(signRequest(fields, false))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing signer", func(t *testing.T) {
		resp, _ := app.Test(signRequest(map[string]string{"x": "10"}, true))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
