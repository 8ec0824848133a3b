package adx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, demands []Demand) *Server {
	t.Helper()
	adxLog, err := NewRuntimeLogger(t.TempDir(), "adx", DefaultLogBuffer, DefaultLogBatch, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(adxLog.Close)

	catalog := NewCatalog(testLogger())
	require.NoError(t, catalog.SetDemands(demands))
	catalog.SetSspInfo([]SSP{{ID: 1, UUID: "known-ssp", Name: "test_ssp", QPS: 100}})
	catalog.Update([]SspPlacement{{
		SspID:       1,
		SspUUID:     "known-ssp",
		PlacementID: "p1",
		AdType:      AdTypeBanner,
		Status:      PlacementEnabled,
	}}, nil)

	gatherer := NewGatherer(NewDSPClient(testLogger()), testLogger())
	engine := NewEngine(catalog, gatherer, adxLog, testLogger(), nil, nil)
	return NewServer(catalog, engine, nil, testLogger())
}

func postOpenRTB(t *testing.T, router *gin.Engine, sspUUID string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/openrtb?ssp_uuid="+sspUUID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleOpenRTBWinner(t *testing.T) {
	demands := []Demand{
		{ID: 1, Name: "win_dsp", URL: bidServer(t, bannerBidResponse(2.5, "<html><body>Ad</body></html>")).URL, Status: true, Timeout: msPtr(500)},
	}
	server := newTestServer(t, demands)
	router := server.Router()

	body, err := json.Marshal(bannerRequest("R1", 250))
	require.NoError(t, err)
	w := postOpenRTB(t, router, "known-ssp", body)

	require.Equal(t, http.StatusOK, w.Code)

	var resp openrtb2.BidResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "R1", resp.ID)
	require.Len(t, resp.SeatBid, 1)
	require.Len(t, resp.SeatBid[0].Bid, 1)
	assert.Equal(t, "i1", resp.SeatBid[0].Bid[0].ImpID)
	assert.Nil(t, resp.NBR)
}

func TestHandleOpenRTBUnknownSSP(t *testing.T) {
	server := newTestServer(t, []Demand{
		{ID: 1, Name: "x_dsp", URL: "http://127.0.0.1:1/bid", Status: true, Timeout: msPtr(100)},
	})
	router := server.Router()

	body, err := json.Marshal(bannerRequest("R2", 250))
	require.NoError(t, err)
	w := postOpenRTB(t, router, "nobody-home", body)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandleOpenRTBNoFill(t *testing.T) {
	// The only demand is unreachable, so every auction is a no-fill.
	server := newTestServer(t, []Demand{
		{ID: 1, Name: "down_dsp", URL: "http://127.0.0.1:1/bid", Status: true, Timeout: msPtr(100)},
	})
	router := server.Router()

	body, err := json.Marshal(bannerRequest("R3", 250))
	require.NoError(t, err)
	w := postOpenRTB(t, router, "known-ssp", body)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandleOpenRTBMalformedBody(t *testing.T) {
	server := newTestServer(t, []Demand{
		{ID: 1, Name: "x_dsp", URL: "http://127.0.0.1:1/bid", Status: true, Timeout: msPtr(100)},
	})
	router := server.Router()

	w := postOpenRTB(t, router, "known-ssp", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, []Demand{
		{ID: 1, Name: "x_dsp", URL: "http://127.0.0.1:1/bid", Status: true, Timeout: msPtr(100)},
	})
	router := server.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoBidResponseShape(t *testing.T) {
	resp := NoBidResponse("R9")
	assert.Equal(t, "R9", resp.ID)
	assert.Empty(t, resp.SeatBid)
	assert.Equal(t, "USD", resp.Cur)
	require.NotNil(t, resp.NBR)
	assert.EqualValues(t, 3, *resp.NBR)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"nbr":3`)
	assert.Contains(t, string(data), `"cur":"USD"`)
}
