package api

import (
	"io"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

// writeError renders err and returns the status written.
func writeError(c *echo.Context, err error) (int, error) {
	ae := classify(err)
	return ae.status, c.JSON(ae.status, map[string]any{"error": ae.body})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, badRequest(err)
	}
	return out, nil
}

func newForwardID() string {
	return "fwd_" + uuid.NewString()
}
