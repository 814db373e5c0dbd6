// handlers_schema.go - Schema and profile handlers
package api

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tracelens/backend/internal/config"
	"github.com/tracelens/backend/internal/models"
)

// SchemaHandlerImpl implements the SchemaHandler interface
type SchemaHandlerImpl struct {
	schemas SchemaProvider
}

// NewSchemaHandler creates a new schema handler instance
func NewSchemaHandler(schemas SchemaProvider) SchemaHandler {
	return &SchemaHandlerImpl{schemas: schemas}
}

// HandleGetSchema returns the active schema as JSON, or in the key=value file
// format when text/plain is requested.
func (h *SchemaHandlerImpl) HandleGetSchema(c echo.Context) error {
	cur := h.schemas.Current()
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextPlain) {
		var buf bytes.Buffer
		if err := config.WriteSchema(&buf, cur, false); err != nil {
			return NewInternalError("failed to render schema", err)
		}
		return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, buf.Bytes())
	}
	return c.JSON(http.StatusOK, cur.Schema)
}

// HandlePutSchema replaces the active schema. JSON bodies carry a schema;
// any other body is read as a key=value schema file.
func (h *SchemaHandlerImpl) HandlePutSchema(c echo.Context) error {
	var next *config.SchemaFile
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var s models.Schema
		if err := c.Bind(&s); err != nil {
			return NewBadRequestError("invalid schema body", err)
		}
		next = h.schemas.Current()
		next.Schema = s
	} else {
		f, err := config.ParseSchema(c.Request().Body)
		if err != nil {
			return NewBadRequestError("invalid schema file", err)
		}
		next = f
	}

	if err := h.schemas.Replace(next); err != nil {
		return FromError("failed to store schema", err)
	}
	return c.JSON(http.StatusOK, next.Schema)
}

// HandleListProfiles lists the available profile names
func (h *SchemaHandlerImpl) HandleListProfiles(c echo.Context) error {
	names, err := h.schemas.Profiles()
	if err != nil {
		return NewInternalError("failed to list profiles", err)
	}
	return c.JSON(http.StatusOK, names)
}
