package handler

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"claimsapi/internal/index"
	"claimsapi/internal/service"
	"claimsapi/internal/staging"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app. Handlers
// stay thin: parsing and status mapping only, no business logic.
func RegisterRoutes(app *fiber.App, db *sql.DB, sink index.Sink, claimSvc service.ClaimService, modelConfigured bool) {
	// Serve OpenAPI spec and Swagger UI
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

	app.Get("/", Root())
	app.Get("/health", HealthCheck(db, sink, modelConfigured))
	app.Get("/healthz", LivenessProbe())

	app.Post("/process-claim", ProcessClaim(claimSvc))
	app.Get("/search-similar", SearchSimilar(claimSvc))

	app.Get("/claims", ListClaims(claimSvc))
	app.Get("/claims/:id", GetClaim(claimSvc))
	app.Delete("/claims/:id", DeleteClaim(claimSvc))

	// Versioned aliases for clients that prefix everything with /api/v1.
	v1 := app.Group("/api/v1")
	v1.Post("/process-claim", ProcessClaim(claimSvc))
	v1.Get("/search-similar", SearchSimilar(claimSvc))
	v1.Get("/claims", ListClaims(claimSvc))
	v1.Get("/claims/:id", GetClaim(claimSvc))
	v1.Delete("/claims/:id", DeleteClaim(claimSvc))
}

// Root serves the upload form.
func Root() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendFile("static/index.html")
	}
}

// HealthCheck reports the status of the service dependencies: database
// connectivity, vector index connectivity and model credential presence. Any
// hard dependency down yields 503.
func HealthCheck(db *sql.DB, sink index.Sink, modelConfigured bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		services := fiber.Map{
			"database": "connected",
			"index":    "connected",
			"model":    "configured",
		}
		healthy := true

		if err := db.PingContext(ctx); err != nil {
			services["database"] = "unavailable"
			healthy = false
		}
		if sink == nil {
			services["index"] = "disabled"
		} else if err := sink.Ping(ctx); err != nil {
			services["index"] = "unavailable"
			healthy = false
		}
		if !modelConfigured {
			services["model"] = "not configured"
		}

		if !healthy {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":   "healthy",
			"services": services,
		})
	}
}

// LivenessProbe is the bare process-up check.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ProcessClaim accepts a multipart batch under the "files" field and runs the
// claim pipeline over it.
func ProcessClaim(claimSvc service.ClaimService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		form, err := c.MultipartForm()
		if err != nil {
			return writeError(c, fiber.StatusUnprocessableEntity, "NO_FILES", "no files provided")
		}

		headers := form.File["files"]
		if len(headers) == 0 {
			return writeError(c, fiber.StatusUnprocessableEntity, "NO_FILES", "no files provided")
		}

		uploads := make([]service.Upload, 0, len(headers))
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return writeError(c, fiber.StatusUnprocessableEntity, "FILE_OPEN_ERROR", "cannot open uploaded file")
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return writeError(c, fiber.StatusUnprocessableEntity, "FILE_READ_ERROR", "cannot read uploaded file")
			}
			uploads = append(uploads, service.Upload{Filename: fh.Filename, Content: content})
		}

		result, err := claimSvc.ProcessClaim(c.UserContext(), uploads)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNoFiles):
				return writeError(c, fiber.StatusUnprocessableEntity, "NO_FILES", "no files provided")
			case errors.Is(err, staging.ErrTooLarge):
				return writeError(c, fiber.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error())
			case errors.Is(err, staging.ErrEmptyFile), errors.Is(err, staging.ErrNotPDF):
				return writeError(c, fiber.StatusUnprocessableEntity, "INVALID_FILE", err.Error())
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.JSON(result)
	}
}

// SearchSimilar runs a nearest-neighbor query over indexed documents.
// Query params: query (required), k (optional, default 5).
func SearchSimilar(claimSvc service.ClaimService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		query := c.Query("query")
		if query == "" {
			return writeError(c, fiber.StatusUnprocessableEntity, "QUERY_REQUIRED", "query is required")
		}

		k := 0
		if kStr := c.Query("k"); kStr != "" {
			var err error
			k, err = strconv.Atoi(kStr)
			if err != nil || k < 0 {
				return writeError(c, fiber.StatusBadRequest, "INVALID_K", "invalid k")
			}
		}

		hits, err := claimSvc.SearchSimilar(c.UserContext(), query, k)
		if err != nil {
			if errors.Is(err, service.ErrEmptyQuery) {
				return writeError(c, fiber.StatusUnprocessableEntity, "QUERY_REQUIRED", "query is required")
			}
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "search index unavailable")
		}
		return c.JSON(fiber.Map{
			"query":   query,
			"results": hits,
		})
	}
}

// ListClaims returns processed claims with limit & offset pagination.
func ListClaims(claimSvc service.ClaimService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := claimSvc.ListClaims(c.UserContext(), limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// GetClaim returns a single processed claim by ID.
func GetClaim(claimSvc service.ClaimService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		claim, err := claimSvc.GetClaim(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "claim not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(claim)
	}
}

// DeleteClaim removes a claim and its archived uploads.
func DeleteClaim(claimSvc service.ClaimService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		if err := claimSvc.DeleteClaim(c.UserContext(), id); err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "claim not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
