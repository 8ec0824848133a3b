package adx

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prebid/openrtb/v20/openrtb2"
)

// MockDSP is a local demand endpoint for development and testing. It
// bids floor-times-multiplier per impression and returns format-matched
// creatives carrying its own tracking plus the unexpanded price macro.
type MockDSP struct {
	mu     sync.Mutex
	rng    *rand.Rand
	logger *slog.Logger
}

// NewMockDSP creates a mock DSP with its own price randomness.
func NewMockDSP(logger *slog.Logger) *MockDSP {
	return &MockDSP{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
}

// Router exposes the mock's single bid route.
func (m *MockDSP) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/bid", m.handleBid)
	return router
}

// Run serves the mock on its own port.
func (m *MockDSP) Run(port int) error {
	m.logger.Info("Mock DSP running", "port", port)
	return m.Router().Run(fmt.Sprintf(":%d", port))
}

func (m *MockDSP) handleBid(c *gin.Context) {
	var req openrtb2.BidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bid request"})
		return
	}
	m.logger.Info("Mock DSP received BidRequest", "request_id", req.ID, "imp_count", len(req.Imp))

	// Simulated DSP think time.
	m.mu.Lock()
	delay := 100 + m.rng.Intn(200)
	m.mu.Unlock()
	time.Sleep(time.Duration(delay) * time.Millisecond)

	bids := make([]openrtb2.Bid, 0, len(req.Imp))
	for _, imp := range req.Imp {
		bids = append(bids, m.buildBid(&imp))
	}

	c.JSON(http.StatusOK, openrtb2.BidResponse{
		ID: req.ID,
		SeatBid: []openrtb2.SeatBid{{
			Bid:  bids,
			Seat: "mock_seat",
		}},
		Cur: "USD",
	})
}

func (m *MockDSP) buildBid(imp *openrtb2.Imp) openrtb2.Bid {
	bidID := "bid-" + imp.ID

	m.mu.Lock()
	var multiplier float64
	switch {
	case imp.Banner != nil && bannerSize(imp.Banner, 300, 250):
		multiplier = 1.0 + m.rng.Float64()*2.0
	case imp.Banner != nil && bannerSize(imp.Banner, 728, 90):
		multiplier = 0.8 + m.rng.Float64()*0.4
	case imp.Video != nil:
		multiplier = 1.0 + m.rng.Float64()*1.5
	case imp.Native != nil:
		multiplier = 0.8 + m.rng.Float64()*1.2
	default:
		multiplier = 1.0 + m.rng.Float64()
	}
	width := int64(50 + m.rng.Intn(750))
	height := int64(50 + m.rng.Intn(550))
	m.mu.Unlock()

	floor := imp.BidFloor
	if floor == 0 {
		floor = 0.1
	}

	return openrtb2.Bid{
		ID:      bidID,
		ImpID:   imp.ID,
		Price:   floor * multiplier,
		AdM:     mockCreative(imp, bidID),
		NURL:    "http://dsp-tracker.local/nurl?bid=" + bidID,
		AdID:    "ad-" + uuid.New().String()[:8],
		ADomain: []string{"example.com"},
		CID:     "cid-" + bidID,
		CrID:    "crid-" + bidID,
		Cat:     []string{"IAB1"},
		W:       width,
		H:       height,
	}
}

func bannerSize(b *openrtb2.Banner, w, h int64) bool {
	return b.W != nil && b.H != nil && *b.W == w && *b.H == h
}

// mockCreative builds a format-matched adm with the DSP's own tracking
// URLs and the {AUCTION_PRICE} macro left for the exchange to expand.
func mockCreative(imp *openrtb2.Imp, bidID string) string {
	switch {
	case imp.Video != nil:
		return fmt.Sprintf(`<VAST version="3.0">
  <Ad id="%[1]s">
    <InLine>
      <AdSystem>Mock DSP</AdSystem>
      <AdTitle>Mock Video Ad</AdTitle>
      <Impression><![CDATA[http://dsp-tracker.local/impression?bid=%[1]s&price={AUCTION_PRICE}]]></Impression>
      <Creatives>
        <Creative>
          <Linear>
            <Duration>00:00:30</Duration>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/mp4" width="640" height="360" bitrate="500">http://example.com/video.mp4</MediaFile>
            </MediaFiles>
            <VideoClicks>
              <ClickTracking><![CDATA[http://dsp-tracker.local/click?bid=%[1]s&price={AUCTION_PRICE}]]></ClickTracking>
            </VideoClicks>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`, bidID)
	case imp.Native != nil:
		return fmt.Sprintf(`{"native":{"assets":[{"title":{"text":"Mock Native Ad"}},{"img":{"url":"http://example.com/native.jpg"}}],"impression_tracking":"http://dsp-tracker.local/impression?bid=%[1]s&price={AUCTION_PRICE}","click_tracking":"http://dsp-tracker.local/click?bid=%[1]s&price={AUCTION_PRICE}"}}`, bidID)
	default:
		return fmt.Sprintf(`<html><body>Mock DSP Ad<br/>Auction Price: {AUCTION_PRICE}<br/><a href="http://dsp-tracker.local/click?bid=%[1]s" target="_blank">Click Here</a><img src="http://dsp-tracker.local/impression?bid=%[1]s" style="display:none;" /></body></html>`, bidID)
	}
}
