package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"lexsign/internal/service"
	"lexsign/internal/upload"
)

// RegisterRoutes attaches the HTTP surface to the Fiber app. Handlers
// stay thin; everything of substance lives in the services.
func RegisterRoutes(app *fiber.App, db *sql.DB, docSvc service.DocumentService, guestSvc service.GuestService, mgr *upload.Manager) {
	// OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	// Internal document surface
	app.Post("/documents", CreateDocument(docSvc))
	app.Get("/documents", ListDocuments(docSvc))
	app.Get("/documents/:id", GetDocument(docSvc))
	app.Post("/documents/:id/publish", PublishDocument(docSvc))
	app.Post("/documents/:id/unpublish", UnpublishDocument(docSvc))
	app.Post("/documents/:id/initiate-upload", InitiateUpload(docSvc))
	app.Post("/documents/:id/upload-sessions", OpenUploadSession(docSvc))
	app.Get("/documents/:id/download-link", DownloadLink(docSvc))
	app.Post("/documents/:id/sessions", StartSigningSession(docSvc))
	app.Post("/documents/:id/update-signed", UpdateSigned(docSvc))
	app.Post("/documents/:id/sign", SignDocument(docSvc))
	app.Post("/documents/:id/versions/:versionId/revert", RevertVersion(docSvc))
	app.Post("/documents/:id/invite", InviteGuest(guestSvc))

	// Chunked upload sessions (internal and guest sessions share these;
	// the session id is the capability)
	app.Put("/upload-sessions/:sessionId/chunks", PutChunk(mgr))
	app.Get("/upload-sessions/:sessionId", UploadProgress(mgr))
	app.Delete("/upload-sessions/:sessionId", AbandonUpload(mgr))

	// Guest surface, token-scoped only
	app.Post("/guest/send-otp", GuestSendOTP(guestSvc))
	app.Post("/guest/verify", GuestVerify(guestSvc))
	app.Get("/guest/documents/:token/download-link", GuestDownloadLink(guestSvc))
	app.Post("/guest/documents/:token/upload-url", GuestUploadURL(guestSvc))
	app.Post("/guest/documents/:token/upload-sessions", GuestOpenUploadSession(guestSvc))
	app.Post("/guest/documents/:token/finalize", GuestFinalize(guestSvc))
	app.Get("/guest/documents/:token/metadata", GuestMetadata(guestSvc))
	app.Post("/guest/documents/:token/decline", GuestDecline(guestSvc))
}
