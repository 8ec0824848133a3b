package adx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
)

// DefaultBidDeadline bounds a DSP call when neither the demand nor the
// request carries a deadline.
const DefaultBidDeadline = 250 * time.Millisecond

// DefaultProfitRate is the baseline revenue-share markdown applied when
// no DSP placement overrides it.
const DefaultProfitRate = 0.20

// DSPClient executes single bid RPCs against DSP endpoints. The
// underlying http.Client is shared across all calls so keep-alive
// connections amortize TCP/TLS setup.
type DSPClient struct {
	client *http.Client
	logger *slog.Logger
}

// NewDSPClient creates a DSP client with a shared transport.
func NewDSPClient(logger *slog.Logger) *DSPClient {
	return &DSPClient{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// CallBid posts one serialized BidRequest to a demand and classifies the
// outcome. The call is bounded by the demand's effective deadline; on
// deadline the in-flight request is cancelled and the result is a
// timeout. No retries.
func (c *DSPClient) CallBid(ctx context.Context, demand Demand, body []byte, tmax int64) DSPResult {
	deadline := demand.EffectiveDeadline(tmax)
	result := DSPResult{
		DSPID:    demand.ID,
		URL:      demand.URL,
		Response: &openrtb2.BidResponse{},
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, demand.URL, bytes.NewReader(body))
	if err != nil {
		result.Status = CallInvalidResponse
		result.ElapsedMS = time.Since(start).Milliseconds()
		return result
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result.Status = CallTimeout
			result.ElapsedMS = deadline.Milliseconds()
		} else {
			result.Status = CallInvalidResponse
			result.ElapsedMS = time.Since(start).Milliseconds()
		}
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		result.Status = CallInvalidResponse
		result.ElapsedMS = time.Since(start).Milliseconds()
		return result
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result.Status = CallTimeout
			result.ElapsedMS = deadline.Milliseconds()
		} else {
			result.Status = CallInvalidResponse
			result.ElapsedMS = time.Since(start).Milliseconds()
		}
		return result
	}

	var bidResp openrtb2.BidResponse
	if err := json.Unmarshal(respBody, &bidResp); err != nil {
		result.Status = CallParseError
		result.ElapsedMS = time.Since(start).Milliseconds()
		return result
	}

	result.Status = CallSuccess
	result.Response = &bidResp
	result.TopPrice = topPrice(&bidResp)
	result.ElapsedMS = time.Since(start).Milliseconds()
	return result
}

// topPrice is the maximum bid price across all seat bids, 0 when empty.
func topPrice(resp *openrtb2.BidResponse) float64 {
	top := 0.0
	for _, seat := range resp.SeatBid {
		for _, bid := range seat.Bid {
			if bid.Price > top {
				top = bid.Price
			}
		}
	}
	return top
}
