package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hl7mapper/hl7mapper/pkg/pagination"
)

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc := newTestService()
	return NewHandler(svc), svc, echo.New()
}

func expectStatus(t *testing.T, err error, want int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != want {
		t.Errorf("expected %d, got %d", want, he.Code)
	}
}

const createBody = `{"name":"ADT admit","version":"2.5","mappings":[
	{"jsonPath":"patient.id","segment":"PID","field":3},
	{"jsonPath":"patient.ln","segment":"PID","field":5,"component":1}
]}`

func TestHandler_CreateProfile(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader(createBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Profile
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Name != "ADT admit" || len(got.Mappings) != 2 {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if got.Mappings[1].ComponentIndex() != 1 {
		t.Errorf("expected component 1, got %d", got.Mappings[1].ComponentIndex())
	}

	// same name again
	req = httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader(createBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c = e.NewContext(req, httptest.NewRecorder())
	expectStatus(t, h.CreateProfile(c), http.StatusConflict)
}

func TestHandler_CreateProfile_Invalid(t *testing.T) {
	h, _, e := newTestHandler()
	tests := map[string]string{
		"malformed":     `{"name":`,
		"missing name":  `{"mappings":[{"jsonPath":"a","segment":"PID","field":3}]}`,
		"no mappings":   `{"name":"x","mappings":[]}`,
		"invalid field": `{"name":"x","mappings":[{"jsonPath":"a","segment":"PID","field":0}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			c := e.NewContext(req, httptest.NewRecorder())
			expectStatus(t, h.CreateProfile(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_GetProfile(t *testing.T) {
	h, svc, e := newTestHandler()
	p := adtProfile()
	svc.CreateProfile(context.Background(), p)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.GetProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"name":"ADT admit"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_GetProfile_BadID(t *testing.T) {
	h, _, e := newTestHandler()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectStatus(t, h.GetProfile(c), http.StatusBadRequest)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("00000000-0000-0000-0000-000000000001")
	expectStatus(t, h.GetProfile(c), http.StatusNotFound)
}

func TestHandler_ListProfiles(t *testing.T) {
	h, svc, e := newTestHandler()
	for _, name := range []string{"adt a", "adt b", "adt c", "oru"} {
		p := adtProfile()
		p.Name = name
		if err := svc.CreateProfile(context.Background(), p); err != nil {
			t.Fatalf("CreateProfile: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles?name=adt&limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListProfiles(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data    []Profile         `json:"data"`
		Total   int               `json:"total"`
		HasMore bool              `json:"has_more"`
		Links   *pagination.Links `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("expected 2 of 3 with more, got %d of %d (has_more=%v)", len(resp.Data), resp.Total, resp.HasMore)
	}
	if resp.Links == nil || !strings.Contains(resp.Links.Next, "offset=2") || !strings.Contains(resp.Links.Next, "name=adt") {
		t.Errorf("expected next link keeping the filter, got %+v", resp.Links)
	}
}

func TestHandler_ListProfiles_Empty(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/profiles", nil), rec)
	if err := h.ListProfiles(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", rec.Body.String())
	}
}

func TestHandler_UpdateAndDeleteProfile(t *testing.T) {
	h, svc, e := newTestHandler()
	p := adtProfile()
	svc.CreateProfile(context.Background(), p)

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"name":"renamed","version":"2.4","mappings":[{"jsonPath":"id","segment":"PID","field":3}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.UpdateProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got, _ := svc.GetProfile(context.Background(), p.ID); got.Name != "renamed" {
		t.Errorf("expected renamed profile, got %q", got.Name)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.DeleteProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	expectStatus(t, h.DeleteProfile(c), http.StatusNotFound)
}

func TestHandler_AssembleProfile(t *testing.T) {
	h, svc, e := newTestHandler()
	p := adtProfile()
	svc.CreateProfile(context.Background(), p)

	req := httptest.NewRequest(http.MethodPost, "/?version=2.4", strings.NewReader(`{"patient":{"id":"123","ln":"Smith"}}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.AssembleProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %q", ct)
	}
	want := "MSH|^~\\&|HL7MAPPER|HL7MAPPER|RECEIVER|RECEIVER|20240115||ADT^A01|MSG00001|P|2.4\rPID|||123||Smith"
	if rec.Body.String() != want {
		t.Errorf("expected %q, got %q", want, rec.Body.String())
	}
}

func TestHandler_AssembleProfile_JSON(t *testing.T) {
	h, svc, e := newTestHandler()
	p := adtProfile()
	svc.CreateProfile(context.Background(), p)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"patient":{"id":"123"}}`))
	req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.AssembleProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"message":"MSH|`) {
		t.Errorf("expected JSON response with message, got %s", rec.Body.String())
	}
}

func TestHandler_AssembleProfile_InvalidDocument(t *testing.T) {
	h, svc, e := newTestHandler()
	p := adtProfile()
	svc.CreateProfile(context.Background(), p)

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{nope`)), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	expectStatus(t, h.AssembleProfile(c), http.StatusBadRequest)
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"GET /api/v1/profiles":               false,
		"POST /api/v1/profiles":              false,
		"GET /api/v1/profiles/:id":           false,
		"PUT /api/v1/profiles/:id":           false,
		"DELETE /api/v1/profiles/:id":        false,
		"POST /api/v1/profiles/:id/assemble": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}
