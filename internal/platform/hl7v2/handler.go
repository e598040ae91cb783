package hl7v2

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hl7mapper/hl7mapper/internal/platform/auth"
	"github.com/hl7mapper/hl7mapper/internal/platform/definitions"
)

// DefinitionSource resolves segment metadata. *definitions.Cache implements it.
type DefinitionSource interface {
	Segments(ctx context.Context, version string) ([]definitions.SegmentSummary, error)
	SegmentDetail(ctx context.Context, version, segmentID string) (definitions.SegmentDetail, error)
	Invalidate(version, segmentID string)
}

type statsSource interface {
	Stats() definitions.Stats
}

// Handler provides HTTP endpoints for segment metadata, message assembly
// and delivery.
type Handler struct {
	defs      DefinitionSource
	assembler *Assembler
	sender    *MLLPSender
}

// NewHandler creates a new HL7v2 handler. sender may be nil, in which case
// the send endpoint answers 503.
func NewHandler(defs DefinitionSource, assembler *Assembler, sender *MLLPSender) *Handler {
	return &Handler{defs: defs, assembler: assembler, sender: sender}
}

// RegisterRoutes registers HL7v2 endpoints on the provided route group.
//
//	GET  /api/v1/hl7v2/segments?version=             - Segment catalog
//	GET  /api/v1/hl7v2/segments/detail?version=&segment= - Segment field layout (always refetched)
//	GET  /api/v1/hl7v2/cache/stats                   - Definition cache counters
//	POST /api/v1/hl7v2/assemble                      - Build a message from JSON + mappings
//	POST /api/v1/hl7v2/send                          - Build and deliver over MLLP
//	POST /api/v1/hl7v2/parse                         - Parse HL7v2 text to JSON
func (h *Handler) RegisterRoutes(g *echo.Group) {
	read := auth.RequireScope(auth.ScopeRead)
	g.GET("/hl7v2/segments", h.ListSegments, read)
	g.GET("/hl7v2/segments/detail", h.GetSegmentDetail, read)
	g.GET("/hl7v2/cache/stats", h.CacheStats, read)
	g.POST("/hl7v2/parse", h.ParseMessage, read)

	g.POST("/hl7v2/assemble", h.AssembleMessage, auth.RequireScope(auth.ScopeWrite))
	g.POST("/hl7v2/send", h.SendMessage, auth.RequireScope(auth.ScopeSend))
}

// ListSegments handles GET /api/v1/hl7v2/segments.
func (h *Handler) ListSegments(c echo.Context) error {
	version := definitions.NormalizeVersion(c.QueryParam("version"))
	segments, err := h.defs.Segments(c.Request().Context(), version)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":  version,
		"segments": segments,
	})
}

// GetSegmentDetail handles GET /api/v1/hl7v2/segments/detail. The cached
// entry is invalidated first so the caller always sees fresh definitions.
func (h *Handler) GetSegmentDetail(c echo.Context) error {
	segment := strings.TrimSpace(c.QueryParam("segment"))
	if segment == "" {
		return errorJSON(c, &definitions.ValidationError{Field: "segment", Message: "is required"})
	}
	version := definitions.NormalizeVersion(c.QueryParam("version"))

	h.defs.Invalidate(version, segment)
	detail, err := h.defs.SegmentDetail(c.Request().Context(), version, segment)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// CacheStats handles GET /api/v1/hl7v2/cache/stats.
func (h *Handler) CacheStats(c echo.Context) error {
	s, ok := h.defs.(statsSource)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "cache statistics are not available"})
	}
	return c.JSON(http.StatusOK, s.Stats())
}

// AssembleRequest is the body of the assemble and send endpoints.
type AssembleRequest struct {
	InputJSON json.RawMessage `json:"inputJson"`
	Mappings  []Mapping       `json:"mappings"`
	Version   string          `json:"version"`
}

// Document returns the input document. A JSON string holding JSON text is
// unwrapped, so clients may post the contents of a text box as-is.
func (r *AssembleRequest) Document() ([]byte, error) {
	raw := []byte(strings.TrimSpace(string(r.InputJSON)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil, &definitions.ValidationError{Field: "inputJson", Message: "is required"}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, &definitions.ParseError{Err: err}
		}
		return []byte(s), nil
	}
	return raw, nil
}

type assembleResponse struct {
	Message  string    `json:"message"`
	Segments []Segment `json:"segments"`
}

// AssembleMessage handles POST /api/v1/hl7v2/assemble. It responds with
// text/plain unless the client accepts application/json.
func (h *Handler) AssembleMessage(c echo.Context) error {
	msg, err := h.assemble(c)
	if err != nil {
		return errorJSON(c, err)
	}
	return WriteMessage(c, msg)
}

// WriteMessage responds with msg as text/plain, or as JSON with a parsed
// segment preview when the client accepts application/json.
func WriteMessage(c echo.Context, msg string) error {
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) {
		parsed, err := Parse([]byte(msg))
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, assembleResponse{Message: msg, Segments: parsed.Segments})
	}
	return c.Blob(http.StatusOK, "text/plain", []byte(msg))
}

// SendMessage handles POST /api/v1/hl7v2/send.
func (h *Handler) SendMessage(c echo.Context) error {
	if h.sender == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "mllp delivery is not configured",
		})
	}
	msg, err := h.assemble(c)
	if err != nil {
		return errorJSON(c, err)
	}

	ack, err := h.sender.Send(c.Request().Context(), msg)
	var nack *NackError
	switch {
	case errors.As(err, &nack):
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error":   err.Error(),
			"message": msg,
			"ackCode": nack.Code,
		})
	case err != nil:
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":      msg,
		"ackCode":      ack.AckCode(),
		"ackControlId": ack.ControlID,
		"receiver":     h.sender.Addr(),
	})
}

func (h *Handler) assemble(c echo.Context) (string, error) {
	var req AssembleRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return "", &definitions.ParseError{Err: err}
	}
	doc, err := req.Document()
	if err != nil {
		return "", err
	}
	return h.assembler.Assemble(doc, req.Mappings, req.Version)
}

// ParseMessage handles POST /api/v1/hl7v2/parse.
func (h *Handler) ParseMessage(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	msg, err := Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse HL7v2 message: " + err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"type":      msg.Type,
		"controlId": msg.ControlID,
		"version":   msg.Version,
		"segments":  msg.Segments,
	})
}

// ErrorStatus maps an error to the HTTP status the API reports for it.
func ErrorStatus(err error) int {
	var (
		vErr      *definitions.ValidationError
		parseErr  *definitions.ParseError
		statusErr *definitions.UpstreamStatusError
		transErr  *definitions.TransportError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.As(err, &parseErr):
		if parseErr.URL == "" {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case errors.As(err, &statusErr), errors.As(err, &transErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(ErrorStatus(err), map[string]string{"error": err.Error()})
}

// decodeJSONBody reads and decodes the JSON request body into the given target.
func decodeJSONBody(c echo.Context, target interface{}) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, target)
}
