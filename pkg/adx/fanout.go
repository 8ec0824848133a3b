package adx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prebid/openrtb/v20/openrtb2"
)

// Gatherer fans one auction out to every enabled demand in parallel and
// collects all terminal outcomes. Collect-all: a fast success does not
// abort slower peers; each call self-bounds by its own deadline, so the
// worst-case wall time is the largest per-call deadline plus scheduling
// slack.
type Gatherer struct {
	client *DSPClient
	logger *slog.Logger
}

// NewGatherer creates a gatherer on top of a shared DSP client.
func NewGatherer(client *DSPClient, logger *slog.Logger) *Gatherer {
	return &Gatherer{client: client, logger: logger}
}

// FetchBids dispatches one DSP call per demand, waits for every outcome,
// and returns them ordered by top price descending; ties keep the
// demand-list order. Cancelling ctx propagates into all in-flight calls.
func (g *Gatherer) FetchBids(ctx context.Context, req *openrtb2.BidRequest, demands []Demand) ([]DSPResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal bid request: %w", err)
	}

	results := make([]DSPResult, len(demands))
	var wg sync.WaitGroup
	for i, demand := range demands {
		wg.Add(1)
		go func(i int, d Demand) {
			defer wg.Done()
			results[i] = g.client.CallBid(ctx, d, body, req.TMax)
		}(i, demand)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TopPrice > results[j].TopPrice
	})
	return results, nil
}
