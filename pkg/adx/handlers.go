package adx

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/prebid/openrtb/v20/openrtb3"
)

// Server is the HTTP front: it parses the SSP's OpenRTB POST, resolves
// the SSP and its placement, builds the per-request Context and hands it
// to the engine.
type Server struct {
	catalog *Catalog
	engine  *Engine
	qps     *QPSTracker
	logger  *slog.Logger
}

// NewServer wires the HTTP front. qps may be nil.
func NewServer(catalog *Catalog, engine *Engine, qps *QPSTracker, logger *slog.Logger) *Server {
	return &Server{catalog: catalog, engine: engine, qps: qps, logger: logger}
}

// Router builds the gin route table.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "adx"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	router.POST("/openrtb", s.handleOpenRTB)
	return router
}

// NoBidResponse is the skeletal response returned on no-fill: empty
// seatbid, USD, nbr=3.
func NoBidResponse(requestID string) *openrtb2.BidResponse {
	nbr := openrtb3.NoBidReason(3)
	return &openrtb2.BidResponse{
		ID:      requestID,
		SeatBid: []openrtb2.SeatBid{},
		Cur:     "USD",
		NBR:     &nbr,
	}
}

func (s *Server) handleOpenRTB(c *gin.Context) {
	sspUUID := c.Query("ssp_uuid")

	var bidRequest openrtb2.BidRequest
	if err := c.ShouldBindJSON(&bidRequest); err != nil {
		s.logger.Error("Invalid bid request", "ssp_uuid", sspUUID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bid request"})
		return
	}

	ssp, ok := s.catalog.SspByUUID(sspUUID)
	if !ok {
		s.logger.Warn("Unknown ssp_uuid", "ssp_uuid", sspUUID, "request_id", bidRequest.ID)
		c.JSON(http.StatusNoContent, NoBidResponse(bidRequest.ID))
		return
	}
	placement, ok := s.catalog.SspPlacementByUUID(sspUUID)
	if !ok {
		s.logger.Warn("No enabled placement for ssp_uuid", "ssp_uuid", sspUUID, "request_id", bidRequest.ID)
		c.JSON(http.StatusNoContent, NoBidResponse(bidRequest.ID))
		return
	}

	if s.qps != nil {
		if rate, err := s.qps.Hit(c.Request.Context(), sspUUID); err == nil {
			if ssp.QPS > 0 && rate > int64(ssp.QPS) {
				s.logger.Warn("SSP over declared qps budget",
					"ssp_uuid", sspUUID, "qps", ssp.QPS, "rate", rate)
			}
		}
	}

	rc := NewContext(&bidRequest, ssp, placement)
	response := s.engine.Run(c.Request.Context(), rc)
	if response == nil {
		c.JSON(http.StatusNoContent, NoBidResponse(bidRequest.ID))
		return
	}
	c.JSON(http.StatusOK, response)
}
