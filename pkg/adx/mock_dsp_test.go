package adx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDSPBidsPerImpression(t *testing.T) {
	mock := NewMockDSP(testLogger())
	router := mock.Router()

	w, h := int64(300), int64(250)
	req := &openrtb2.BidRequest{
		ID: "mock-req",
		Imp: []openrtb2.Imp{
			{ID: "i1", BidFloor: 1.0, Banner: &openrtb2.Banner{W: &w, H: &h}},
			{ID: "i2", BidFloor: 2.0, Video: &openrtb2.Video{MIMEs: []string{"video/mp4"}}},
			{ID: "i3", BidFloor: 0.5, Native: &openrtb2.Native{Request: `{"ver":"1.2"}`}},
		},
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/bid", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, httpReq)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp openrtb2.BidResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "mock-req", resp.ID)
	require.Len(t, resp.SeatBid, 1)
	require.Len(t, resp.SeatBid[0].Bid, 3)

	for i, bid := range resp.SeatBid[0].Bid {
		assert.Equal(t, req.Imp[i].ID, bid.ImpID)
		assert.Greater(t, bid.Price, 0.0)
		assert.Contains(t, bid.AdM, AuctionPriceMacro,
			"mock creatives carry the unexpanded macro")
	}

	assert.True(t, strings.Contains(resp.SeatBid[0].Bid[0].AdM, "<html"))
	assert.True(t, strings.Contains(resp.SeatBid[0].Bid[1].AdM, "<VAST"))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(resp.SeatBid[0].Bid[2].AdM), "{"))
}

func TestMockDSPRejectsMalformedBody(t *testing.T) {
	mock := NewMockDSP(testLogger())
	router := mock.Router()

	rec := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/bid", strings.NewReader("{nope"))
	router.ServeHTTP(rec, httpReq)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
