package openapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hl7mapper/hl7mapper/internal/platform/auth"
)

// Generator builds the OpenAPI 3.0 document for the hl7mapper API.
type Generator struct {
	version string
	baseURL string
}

// NewGenerator creates a new OpenAPI spec generator.
func NewGenerator(version, baseURL string) *Generator {
	return &Generator{version: version, baseURL: baseURL}
}

type param struct {
	name, in, typ, description string
	required                   bool
}

type operation struct {
	method, path, id, summary, tag, scope string

	params      []param
	requestType string // content type of the body, empty for none
	requestRef  string // schema name, empty for a plain string body
	responses   map[string]response
}

type response struct {
	description string
	contentType string
	ref         string // schema name, optional
}

var (
	versionParam = param{name: "version", in: "query", typ: "string", description: "HL7 version, e.g. 2.5 or 5. Defaults to 2.5."}
	idParam      = param{name: "id", in: "path", typ: "string", required: true, description: "Profile id (UUID)."}

	messageResp = response{description: "Assembled message, segments separated by CR. JSON with a segment preview when Accept is application/json.", contentType: "text/plain"}
)

func errorResp(description string) response {
	return response{description: description, contentType: "application/json", ref: "Error"}
}

var operations = []operation{
	{
		method: http.MethodGet, path: "/hl7v2/segments", id: "listSegments", tag: "Definitions",
		summary: "List the segments defined for a version", scope: auth.ScopeRead,
		params: []param{versionParam},
		responses: map[string]response{
			"200": {description: "Segment catalog", contentType: "application/json", ref: "SegmentList"},
			"502": errorResp("Definition service failed"),
			"504": errorResp("Definition service timed out"),
		},
	},
	{
		method: http.MethodGet, path: "/hl7v2/segments/detail", id: "getSegmentDetail", tag: "Definitions",
		summary: "Fetch the field layout of one segment, bypassing the cache", scope: auth.ScopeRead,
		params: []param{versionParam, {name: "segment", in: "query", typ: "string", required: true, description: "Segment identifier, e.g. PID."}},
		responses: map[string]response{
			"200": {description: "Segment detail", contentType: "application/json", ref: "SegmentDetail"},
			"400": errorResp("Missing segment"),
			"502": errorResp("Definition service failed"),
		},
	},
	{
		method: http.MethodGet, path: "/hl7v2/cache/stats", id: "getCacheStats", tag: "Definitions",
		summary: "Definition cache counters", scope: auth.ScopeRead,
		responses: map[string]response{
			"200": {description: "Cache statistics", contentType: "application/json", ref: "CacheStats"},
		},
	},
	{
		method: http.MethodPost, path: "/hl7v2/parse", id: "parseMessage", tag: "Messages",
		summary: "Parse HL7 v2 text into segments and fields", scope: auth.ScopeRead,
		requestType: "text/plain",
		responses: map[string]response{
			"200": {description: "Parsed message", contentType: "application/json", ref: "ParsedMessage"},
			"400": errorResp("Not an HL7 v2 message"),
		},
	},
	{
		method: http.MethodPost, path: "/hl7v2/assemble", id: "assembleMessage", tag: "Messages",
		summary: "Build a message from a JSON document and mappings", scope: auth.ScopeWrite,
		requestType: "application/json", requestRef: "AssembleRequest",
		responses: map[string]response{
			"200": messageResp,
			"400": errorResp("Invalid document or mapping"),
			"502": errorResp("Definition service failed"),
		},
	},
	{
		method: http.MethodPost, path: "/hl7v2/send", id: "sendMessage", tag: "Messages",
		summary: "Build a message and deliver it over MLLP", scope: auth.ScopeSend,
		requestType: "application/json", requestRef: "AssembleRequest",
		responses: map[string]response{
			"200": {description: "Receiver acknowledged", contentType: "application/json", ref: "SendResult"},
			"400": errorResp("Invalid document or mapping"),
			"502": errorResp("Delivery failed or was rejected"),
			"503": errorResp("Delivery is not configured"),
		},
	},
	{
		method: http.MethodGet, path: "/profiles", id: "listProfiles", tag: "Profiles",
		summary: "List mapping profiles", scope: auth.ScopeRead,
		params: []param{
			{name: "name", in: "query", typ: "string", description: "Case-insensitive name filter."},
			{name: "limit", in: "query", typ: "integer"},
			{name: "offset", in: "query", typ: "integer"},
		},
		responses: map[string]response{
			"200": {description: "Page of profiles", contentType: "application/json", ref: "ProfilePage"},
		},
	},
	{
		method: http.MethodPost, path: "/profiles", id: "createProfile", tag: "Profiles",
		summary: "Create a mapping profile", scope: auth.ScopeProfilesWrite,
		requestType: "application/json", requestRef: "Profile",
		responses: map[string]response{
			"201": {description: "Created", contentType: "application/json", ref: "Profile"},
			"400": errorResp("Invalid profile"),
			"409": errorResp("Name already in use"),
		},
	},
	{
		method: http.MethodGet, path: "/profiles/{id}", id: "getProfile", tag: "Profiles",
		summary: "Read a mapping profile", scope: auth.ScopeRead,
		params: []param{idParam},
		responses: map[string]response{
			"200": {description: "Profile", contentType: "application/json", ref: "Profile"},
			"404": errorResp("Not found"),
		},
	},
	{
		method: http.MethodPut, path: "/profiles/{id}", id: "updateProfile", tag: "Profiles",
		summary: "Replace a mapping profile", scope: auth.ScopeProfilesWrite,
		params: []param{idParam}, requestType: "application/json", requestRef: "Profile",
		responses: map[string]response{
			"200": {description: "Updated", contentType: "application/json", ref: "Profile"},
			"400": errorResp("Invalid profile"),
			"404": errorResp("Not found"),
			"409": errorResp("Name already in use"),
		},
	},
	{
		method: http.MethodDelete, path: "/profiles/{id}", id: "deleteProfile", tag: "Profiles",
		summary: "Delete a mapping profile", scope: auth.ScopeProfilesWrite,
		params: []param{idParam},
		responses: map[string]response{
			"204": {description: "Deleted"},
			"404": errorResp("Not found"),
		},
	},
	{
		method: http.MethodPost, path: "/profiles/{id}/assemble", id: "assembleProfile", tag: "Profiles",
		summary: "Build a message from a JSON document using a stored profile", scope: auth.ScopeWrite,
		params: []param{idParam, versionParam}, requestType: "application/json",
		responses: map[string]response{
			"200": messageResp,
			"400": errorResp("Invalid document"),
			"404": errorResp("Not found"),
		},
	},
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]interface{})
	for _, op := range operations {
		item, ok := paths[op.path].(map[string]interface{})
		if !ok {
			item = make(map[string]interface{})
			paths[op.path] = item
		}
		item[strings.ToLower(op.method)] = buildOperation(op)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "HL7 Mapper API",
			"version":     g.version,
			"description": "Assembles HL7 v2 messages from JSON documents using field mappings and remote segment definitions.",
		},
		"servers": []map[string]string{
			{"url": strings.TrimRight(g.baseURL, "/") + "/api/v1"},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
		},
	}
}

func buildOperation(op operation) map[string]interface{} {
	out := map[string]interface{}{
		"summary":     op.summary,
		"operationId": op.id,
		"tags":        []string{op.tag},
		"responses":   buildResponses(op.responses),
	}
	if op.scope != "" {
		out["security"] = []map[string][]string{{"bearerAuth": {op.scope}}}
		out["x-required-scope"] = op.scope
	}
	if len(op.params) > 0 {
		params := make([]map[string]interface{}, 0, len(op.params))
		for _, p := range op.params {
			m := map[string]interface{}{
				"name":     p.name,
				"in":       p.in,
				"required": p.required,
				"schema":   map[string]string{"type": p.typ},
			}
			if p.description != "" {
				m["description"] = p.description
			}
			params = append(params, m)
		}
		out["parameters"] = params
	}
	if op.requestType != "" {
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				op.requestType: map[string]interface{}{"schema": schemaFor(op.requestType, op.requestRef)},
			},
		}
	}
	return out
}

func buildResponses(in map[string]response) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for code, r := range in {
		m := map[string]interface{}{"description": r.description}
		if r.contentType != "" {
			m["content"] = map[string]interface{}{
				r.contentType: map[string]interface{}{"schema": schemaFor(r.contentType, r.ref)},
			}
		}
		out[code] = m
	}
	return out
}

func schemaFor(contentType, ref string) map[string]interface{} {
	switch {
	case ref != "":
		return map[string]interface{}{"$ref": "#/components/schemas/" + ref}
	case contentType == "application/json":
		return map[string]interface{}{"type": "object"}
	default:
		return map[string]interface{}{"type": "string"}
	}
}

func object(required []string, props map[string]interface{}) map[string]interface{} {
	m := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		m["required"] = required
	}
	return m
}

func str() map[string]interface{} { return map[string]interface{}{"type": "string"} }
func integer() map[string]interface{} { return map[string]interface{}{"type": "integer"} }
func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}
func arrayOf(item map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": item}
}

// buildComponentSchemas mirrors the JSON shapes the handlers read and write.
func buildComponentSchemas() map[string]interface{} {
	return map[string]interface{}{
		"Error": object([]string{"error"}, map[string]interface{}{"error": str()}),
		"Mapping": object([]string{"jsonPath", "segment", "field"}, map[string]interface{}{
			"jsonPath":  map[string]interface{}{"type": "string", "description": "Dotted path into the input document, e.g. patient.name.family."},
			"segment":   map[string]interface{}{"type": "string", "example": "PID"},
			"field":     map[string]interface{}{"type": "integer", "minimum": 1},
			"component": map[string]interface{}{"type": "integer", "minimum": 1, "nullable": true},
		}),
		"AssembleRequest": object([]string{"inputJson", "mappings"}, map[string]interface{}{
			"inputJson": map[string]interface{}{"description": "The document to map, as JSON or as a string holding JSON text."},
			"mappings":  arrayOf(ref("Mapping")),
			"version":   str(),
		}),
		"SegmentSummary": object(nil, map[string]interface{}{"segment": str(), "title": str()}),
		"SegmentList": object(nil, map[string]interface{}{
			"version":  str(),
			"segments": arrayOf(ref("SegmentSummary")),
		}),
		"FieldDefinition": object(nil, map[string]interface{}{"field": integer(), "name": str()}),
		"SegmentDetail": object(nil, map[string]interface{}{
			"segment": str(),
			"title":   str(),
			"fields":  arrayOf(ref("FieldDefinition")),
		}),
		"CacheStats": object(nil, map[string]interface{}{
			"segment_lists": integer(),
			"details":       integer(),
			"hits":          integer(),
			"misses":        integer(),
			"fetches":       integer(),
			"evictions":     integer(),
		}),
		"Segment": object(nil, map[string]interface{}{
			"name": str(),
			"fields": arrayOf(object(nil, map[string]interface{}{
				"value":      str(),
				"components": arrayOf(str()),
			})),
		}),
		"ParsedMessage": object(nil, map[string]interface{}{
			"type":      str(),
			"controlId": str(),
			"version":   str(),
			"segments":  arrayOf(ref("Segment")),
		}),
		"SendResult": object(nil, map[string]interface{}{
			"message":      str(),
			"ackCode":      str(),
			"ackControlId": str(),
			"receiver":     str(),
		}),
		"Profile": object([]string{"name", "mappings"}, map[string]interface{}{
			"id":          map[string]interface{}{"type": "string", "format": "uuid", "readOnly": true},
			"name":        map[string]interface{}{"type": "string", "maxLength": 200},
			"description": str(),
			"version":     str(),
			"mappings":    arrayOf(ref("Mapping")),
			"created_at":  map[string]interface{}{"type": "string", "format": "date-time", "readOnly": true},
			"updated_at":  map[string]interface{}{"type": "string", "format": "date-time", "readOnly": true},
		}),
		"ProfilePage": object(nil, map[string]interface{}{
			"data":     arrayOf(ref("Profile")),
			"total":    integer(),
			"limit":    integer(),
			"offset":   integer(),
			"has_more": map[string]interface{}{"type": "boolean"},
			"links": object(nil, map[string]interface{}{
				"self":     str(),
				"next":     str(),
				"previous": str(),
			}),
		}),
	}
}

// ── Swagger UI ──────────────────────────────────────────────────────────

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>HL7 Mapper API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/v1/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
