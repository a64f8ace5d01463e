package distribution

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"capital_waterfall/pkg/core/cascade"
	"capital_waterfall/pkg/core/store"
	"capital_waterfall/pkg/core/waterfall"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const presetsYAML = `
structures:
  standard_8_20:
    general_partner_id: gp
    tiers:
      - type: return_of_capital
      - type: preferred_return
        preferred_rate_percent: 8
      - type: gp_catch_up
        target_carry_percent: 20
      - type: residual_split
        lp_split_percent: 80
        gp_split_percent: 20
`

var today = time.Date(2024, 3, 31, 15, 30, 0, 0, time.UTC)

func newServer(t *testing.T, withStore bool) *httptest.Server {
	t.Helper()
	presets, err := waterfall.ParsePresets([]byte(presetsYAML))
	require.NoError(t, err)

	var repo store.Repository
	if withStore {
		cache, err := store.NewResultCache(t.TempDir())
		require.NoError(t, err)
		repo = cache
	}
	h := NewHandler(presets, repo, clockwork.NewFakeClockAt(today), nil)

	r := chi.NewRouter()
	r.Mount("/api/distributions", h.Routes())
	r.Get("/api/waterfalls", h.HandlePresets)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const flatRequest = `{
	"total_amount": 1000000,
	"investors": [
		{"investor_id": "A", "ownership_percent": 60},
		{"investor_id": "B", "ownership_percent": 40}
	]
}`

// truncatedRequest is flatRequest cut off inside the second investor.
const truncatedRequest = `{"total_amount": 1000000, "investors": [{"investor_id": "A", "ownership_percent": 60}, {"investor_id": "B", "owne`

func TestHandleCompute(t *testing.T) {
	srv := newServer(t, false)

	resp := post(t, srv.URL+"/api/distributions/compute", flatRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[cascade.Result](t, resp)

	require.Len(t, res.Allocations, 2)
	assert.InDelta(t, 600_000, res.Allocations[0].BaseAllocation, 1e-6)
	assert.InDelta(t, 400_000, res.Allocations[1].BaseAllocation, 1e-6)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), res.DistributionDate.UTC(), "date defaults to today")
}

func TestHandleCompute_LenientBodyAndPreset(t *testing.T) {
	srv := newServer(t, false)

	body := `{
		// hand-written request
		total_amount: 1080000
		inception_date: "2023-01-01"
		distribution_date: "2024-01-01"
		waterfall_preset: standard_8_20
		investors: [
			{investor_id: "A", ownership_percent: 100, commitment: 1000000}
		]
	}`
	resp := post(t, srv.URL+"/api/distributions/compute", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[cascade.Result](t, resp)

	require.NotNil(t, res.Waterfall)
	assert.Equal(t, "standard_8_20", res.Waterfall.StructureName)
	assert.InDelta(t, 1_080_000, res.TotalDistributed(), 1e-6)
}

func TestHandleCompute_Errors(t *testing.T) {
	srv := newServer(t, false)

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"tax mismatch", `{"total_amount":1000000,"tax_classification":{"income":999000},"investors":[{"investor_id":"A","ownership_percent":1}]}`, http.StatusBadRequest, "invalid_request"},
		{"unknown preset", `{"total_amount":100,"waterfall_preset":"nope","investors":[{"investor_id":"A","ownership_percent":1}]}`, http.StatusBadRequest, "configuration_error"},
		{"garbage", `<<<`, http.StatusBadRequest, "invalid_request"},
		{"truncated", truncatedRequest, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/api/distributions/compute", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			e := decodeBody[ErrorResponse](t, resp)
			assert.Equal(t, tt.kind, e.Kind)
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestHandleBatch(t *testing.T) {
	srv := newServer(t, false)

	body := `{"requests": [` + flatRequest + `,` + strings.Replace(flatRequest, "1000000", "500", 1) + `]}`
	resp := post(t, srv.URL+"/api/distributions/batch", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[BatchResponse](t, resp)
	require.Len(t, out.Results, 2)
	assert.InDelta(t, 1_000_000, out.Results[0].TotalDistributed(), 1e-6)
	assert.InDelta(t, 500, out.Results[1].TotalDistributed(), 1e-9)
}

func TestHandlePersist_AtMostOnce(t *testing.T) {
	srv := newServer(t, true)
	body := strings.Replace(flatRequest, `"total_amount"`, `"event_id": "Q1-2024", "total_amount"`, 1)

	resp := post(t, srv.URL+"/api/distributions", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = post(t, srv.URL+"/api/distributions", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_applied", decodeBody[ErrorResponse](t, resp).Kind)

	get, err := http.Get(srv.URL + "/api/distributions/Q1-2024")
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	res := decodeBody[cascade.Result](t, get)
	assert.Equal(t, "Q1-2024", res.EventID)

	page, err := http.Get(srv.URL + "/api/distributions/Q1-2024/report")
	require.NoError(t, err)
	defer page.Body.Close()
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, page.Header.Get("Content-Type"), "text/html")
}

func TestHandlePersist_AssignsEventID(t *testing.T) {
	srv := newServer(t, true)
	resp := post(t, srv.URL+"/api/distributions", flatRequest)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, decodeBody[cascade.Result](t, resp).EventID, 36)
}

func TestHandleGet_NotFoundAndNoStore(t *testing.T) {
	resp, err := http.Get(newServer(t, true).URL + "/api/distributions/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, err := http.Get(newServer(t, false).URL + "/api/distributions/missing")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestHandlePresets(t *testing.T) {
	resp, err := http.Get(newServer(t, false).URL + "/api/waterfalls")
	require.NoError(t, err)
	defer resp.Body.Close()
	out := decodeBody[PresetsResponse](t, resp)
	require.Len(t, out.Presets, 1)
	assert.Equal(t, "standard_8_20", out.Presets[0].Name)
}

func TestHandlePersist_RejectsTruncatedBody(t *testing.T) {
	srv := newServer(t, true)

	resp := post(t, srv.URL+"/api/distributions", `{"event_id": "evt-9", `+truncatedRequest[1:])
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeBody[ErrorResponse](t, resp).Kind)

	get, err := http.Get(srv.URL + "/api/distributions/evt-9")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusNotFound, get.StatusCode)
}
