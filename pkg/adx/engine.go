package adx

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
)

var sensitiveKeywords = []string{"forbidden", "banned", "restricted"}

// dspCallDetail is one per-DSP record in the aggregated auction log.
// FailureReason is null on success.
type dspCallDetail struct {
	DSPID         uint64     `json:"dsp_id"`
	URL           string     `json:"url"`
	BidPrice      float64    `json:"bid_price"`
	Result        CallStatus `json:"result"`
	InquiryTimeMS int64      `json:"inquiry_time_ms"`
	FailureReason *string    `json:"failure_reason"`
}

// Engine runs the auction pipeline: fan-out, failure partitioning,
// sensitive-content filtering, winner selection, revenue-share markdown
// and creative rewriting. A nil return means no fill; the HTTP front
// turns that into the skeletal 204 response.
type Engine struct {
	catalog   *Catalog
	gatherer  *Gatherer
	adxLog    *RuntimeLogger
	logger    *slog.Logger
	metrics   *Metrics
	analytics *AnalyticsStore
}

// NewEngine wires the auction engine. metrics and analytics may be nil.
func NewEngine(catalog *Catalog, gatherer *Gatherer, adxLog *RuntimeLogger, logger *slog.Logger, metrics *Metrics, analytics *AnalyticsStore) *Engine {
	return &Engine{
		catalog:   catalog,
		gatherer:  gatherer,
		adxLog:    adxLog,
		logger:    logger,
		metrics:   metrics,
		analytics: analytics,
	}
}

// Run executes one auction for the request in rc.
func (e *Engine) Run(ctx context.Context, rc *Context) *openrtb2.BidResponse {
	if e.metrics != nil {
		e.metrics.AuctionsTotal.Inc()
		defer func() {
			e.metrics.AuctionLatency.Observe(time.Since(rc.Start).Seconds())
		}()
	}

	demands := e.catalog.ActiveDemands()
	results, err := e.gatherer.FetchBids(ctx, rc.Request, demands)
	if err != nil {
		e.logger.Error("Fan-out failed", "request_id", rc.Request.ID, "error", err)
		return e.noFill(rc, nil, "all_dsp_failed")
	}
	rc.DSPCalls = results

	details := make([]dspCallDetail, 0, len(results))
	var failedDSPs []map[string]any
	type validResponse struct {
		resp  *openrtb2.BidResponse
		dspID uint64
	}
	var valid []validResponse

	for _, r := range results {
		detail := dspCallDetail{
			DSPID:         r.DSPID,
			URL:           r.URL,
			BidPrice:      r.TopPrice,
			Result:        r.Status,
			InquiryTimeMS: r.ElapsedMS,
		}
		if r.Status != CallSuccess {
			reason := string(r.Status)
			detail.FailureReason = &reason
		}
		details = append(details, detail)
		if e.metrics != nil {
			e.metrics.DSPCalls.WithLabelValues(string(r.Status)).Inc()
		}

		if r.Status != CallSuccess {
			failedDSPs = append(failedDSPs, map[string]any{
				"dsp_id":          r.DSPID,
				"url":             r.URL,
				"reason":          string(r.Status),
				"result":          r.Status,
				"inquiry_time_ms": r.ElapsedMS,
			})
			continue
		}
		if r.Response.NBR != nil {
			failedDSPs = append(failedDSPs, map[string]any{
				"dsp_id":          r.DSPID,
				"url":             r.URL,
				"nbr":             int64(*r.Response.NBR),
				"result":          r.Status,
				"inquiry_time_ms": r.ElapsedMS,
			})
			continue
		}
		if len(r.Response.SeatBid) == 0 {
			failedDSPs = append(failedDSPs, map[string]any{
				"dsp_id":          r.DSPID,
				"url":             r.URL,
				"reason":          "no_seatbid",
				"result":          r.Status,
				"inquiry_time_ms": r.ElapsedMS,
			})
			continue
		}
		valid = append(valid, validResponse{resp: r.Response, dspID: r.DSPID})
	}

	if len(failedDSPs) > 0 {
		e.logJSON("ERROR", map[string]any{
			"request_id": rc.Request.ID,
			"adx_log":    "dsp_inquiry_failed",
			"details":    failedDSPs,
		})
	}

	if len(valid) == 0 {
		return e.noFill(rc, details, "all_dsp_failed")
	}

	// Flatten bids across the already price-sorted responses, rejecting
	// sensitive creatives as they stream by.
	type candidate struct {
		bid   openrtb2.Bid
		dspID uint64
	}
	var candidates []candidate
	for _, v := range valid {
		for _, seat := range v.resp.SeatBid {
			for _, bid := range seat.Bid {
				if containsSensitiveContent(&bid) {
					e.logJSON("WARN", map[string]any{
						"request_id": rc.Request.ID,
						"adx_log":    "bid_rejected",
						"bid_id":     bid.ID,
						"reason":     "contains_sensitive_content",
					})
					if e.metrics != nil {
						e.metrics.BidsRejected.Inc()
					}
					continue
				}
				candidates = append(candidates, candidate{bid: bid, dspID: v.dspID})
			}
		}
	}

	if len(candidates) == 0 {
		return e.noFill(rc, details, "all_bids_filtered")
	}

	// Highest surviving price wins; strict comparison keeps the first
	// occurrence on ties, preserving response order.
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.bid.Price > winner.bid.Price {
			winner = c
		}
	}

	originalPrice := winner.bid.Price
	profitRate := e.catalog.ProfitRate(winner.dspID)
	finalPrice := originalPrice * (1 - profitRate)

	winBid := winner.bid
	winBid.AdM = InjectTracking(SubstituteAuctionPrice(winBid.AdM, finalPrice))
	winBid.Price = finalPrice

	elapsed := rc.ElapsedMS()
	e.logJSON("INFO", map[string]any{
		"request_id":         rc.Request.ID,
		"adx_inquiry_result": "success",
		"winning_bid":        winBid,
		"dsp_call_details":   details,
		"elapsed_time_ms":    elapsed,
	})
	e.warnOnOverrun(rc, elapsed)

	if e.metrics != nil {
		e.metrics.AuctionsFilled.Inc()
	}
	e.recordAuction(rc, details, "success", winner.dspID, originalPrice, finalPrice, elapsed)

	return &openrtb2.BidResponse{
		ID:      rc.Request.ID,
		SeatBid: []openrtb2.SeatBid{{Bid: []openrtb2.Bid{winBid}}},
		Cur:     "USD",
	}
}

// noFill emits the failure and aggregated log lines and returns nil.
func (e *Engine) noFill(rc *Context, details []dspCallDetail, reason string) *openrtb2.BidResponse {
	e.logJSON("ERROR", map[string]any{
		"request_id": rc.Request.ID,
		"adx_log":    "adx_inquiry_failed",
		"reason":     reason,
	})
	elapsed := rc.ElapsedMS()
	e.logJSON("INFO", map[string]any{
		"request_id":         rc.Request.ID,
		"adx_inquiry_result": "failed",
		"winning_bid":        nil,
		"dsp_call_details":   details,
		"elapsed_time_ms":    elapsed,
	})
	e.warnOnOverrun(rc, elapsed)
	if e.metrics != nil {
		e.metrics.AuctionsNoFill.Inc()
	}
	e.recordAuction(rc, details, "failed", 0, 0, 0, elapsed)
	return nil
}

// warnOnOverrun logs when the auction outlived the advisory tmax. The
// budget never aborts the auction; a found winner is still returned.
func (e *Engine) warnOnOverrun(rc *Context, elapsed int64) {
	if rc.Request.TMax > 0 && elapsed > rc.Request.TMax {
		e.logJSON("WARN", map[string]any{
			"request_id":      rc.Request.ID,
			"adx_log":         "tmax_exceeded",
			"tmax":            rc.Request.TMax,
			"elapsed_time_ms": elapsed,
		})
	}
}

func (e *Engine) logJSON(level string, payload map[string]any) {
	line, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("Failed to marshal log payload", "error", err)
		return
	}
	e.adxLog.Log(level, string(line))
}

// recordAuction ships the auction trace to the analytics sink without
// waiting on it.
func (e *Engine) recordAuction(rc *Context, details []dspCallDetail, result string, winningDSP uint64, originalPrice, finalPrice float64, elapsed int64) {
	if e.analytics == nil {
		return
	}
	rec := AuctionRecord{
		RequestID:     rc.Request.ID,
		SspUUID:       rc.SSP.UUID,
		PlacementID:   rc.Placement.PlacementID,
		Result:        result,
		WinningDSP:    winningDSP,
		OriginalPrice: originalPrice,
		FinalPrice:    finalPrice,
		ElapsedMS:     elapsed,
		Timestamp:     time.Now(),
		Calls:         details,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.analytics.LogAuction(ctx, &rec); err != nil {
			e.logger.Error("Failed to log auction analytics", "request_id", rec.RequestID, "error", err)
		}
	}()
}

// containsSensitiveContent rejects a bid whose creative or creative id
// carries a blocked keyword. Matching is case-sensitive.
func containsSensitiveContent(bid *openrtb2.Bid) bool {
	content := bid.AdM + " " + bid.CrID
	for _, word := range sensitiveKeywords {
		if strings.Contains(content, word) {
			return true
		}
	}
	return false
}
