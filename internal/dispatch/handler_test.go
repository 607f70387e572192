package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestHandlerConfirmReportsShortage(t *testing.T) {
	f := newFixture(t)
	f.store.AddProduct("Cable", "m", 10)
	r := chi.NewRouter()
	NewHandler(f.svc).MountRoutes(r)

	rec := httptest.NewRecorder()
	body := `{"customer_id":1,"date":"2024-06-04T00:00:00Z","lines":[{"product_id":1,"uom":"m","quantity":"15","unit_price":"2"}]}`
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retail", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "DSP-SLS-00001", created["reference_no"])
	require.Equal(t, "RETAIL", created["kind"])
	require.Equal(t, "Anh Minh", created["customer_name"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/1/confirm", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "shortages")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"DRAFT"`)
}

func TestHandlerProjectAndOrder(t *testing.T) {
	f := newFixture(t)
	f.store.AddProduct("Cable", "m", 10)
	r := chi.NewRouter()
	NewHandler(f.svc).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/project", strings.NewReader(`{"project_id":1,"date":"2024-06-04T00:00:00Z"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "DSP-PRJ-00001")

	order := `{"order_id":9,"customer_id":2,"date":"2024-06-04T00:00:00Z","lines":[{"product_name":"Cable","uom":"m","quantity":"1"}]}`
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(order)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "DSP-SLS-00002")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?kind=PROJECT", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?kind=GIFT", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
