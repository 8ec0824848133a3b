package adx

import (
	"context"
	"testing"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
)

func httptestSlowServer(t *testing.T, delay time.Duration, price float64) string {
	t.Helper()
	srv := slowBidServer(t, delay, openrtb2.BidResponse{
		ID: "req-1",
		SeatBid: []openrtb2.SeatBid{{
			Bid: []openrtb2.Bid{{ID: "b", ImpID: "i1", Price: price}},
		}},
	})
	return srv.URL
}

func priceServer(t *testing.T, price float64) string {
	t.Helper()
	srv := bidServer(t, openrtb2.BidResponse{
		ID: "req-1",
		SeatBid: []openrtb2.SeatBid{{
			Bid: []openrtb2.Bid{{ID: "b", ImpID: "i1", Price: price}},
		}},
	})
	return srv.URL
}

func TestFetchBidsOrderedByTopPrice(t *testing.T) {
	demands := []Demand{
		{ID: 1, Name: "a_dsp", URL: priceServer(t, 2.0), Status: true, Timeout: msPtr(500)},
		{ID: 2, Name: "b_dsp", URL: priceServer(t, 2.5), Status: true, Timeout: msPtr(500)},
		{ID: 3, Name: "c_dsp", URL: priceServer(t, 1.8), Status: true, Timeout: msPtr(500)},
	}

	gatherer := NewGatherer(NewDSPClient(testLogger()), testLogger())
	req := &openrtb2.BidRequest{ID: "req-1", Imp: []openrtb2.Imp{{ID: "i1"}}}

	results, err := gatherer.FetchBids(context.Background(), req, demands)
	if err != nil {
		t.Fatalf("FetchBids: %v", err)
	}
	if len(results) != len(demands) {
		t.Fatalf("got %d results, want %d", len(results), len(demands))
	}

	wantOrder := []uint64{2, 1, 3}
	for i, want := range wantOrder {
		if results[i].DSPID != want {
			t.Errorf("results[%d].DSPID = %d, want %d", i, results[i].DSPID, want)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].TopPrice > results[i-1].TopPrice {
			t.Errorf("results not sorted non-increasing at %d", i)
		}
	}
}

func TestFetchBidsTieKeepsDemandOrder(t *testing.T) {
	url := priceServer(t, 1.0)
	demands := []Demand{
		{ID: 7, Name: "first_dsp", URL: url, Status: true, Timeout: msPtr(500)},
		{ID: 8, Name: "second_dsp", URL: url, Status: true, Timeout: msPtr(500)},
	}

	gatherer := NewGatherer(NewDSPClient(testLogger()), testLogger())
	req := &openrtb2.BidRequest{ID: "req-1", Imp: []openrtb2.Imp{{ID: "i1"}}}

	results, err := gatherer.FetchBids(context.Background(), req, demands)
	if err != nil {
		t.Fatalf("FetchBids: %v", err)
	}
	if results[0].DSPID != 7 || results[1].DSPID != 8 {
		t.Errorf("tie must keep demand order, got [%d, %d]", results[0].DSPID, results[1].DSPID)
	}
}

// External cancellation propagates into every in-flight call.
func TestFetchBidsCancellation(t *testing.T) {
	slow := httptestSlowServer(t, 2*time.Second, 1.0)
	demands := []Demand{
		{ID: 1, Name: "hang_dsp", URL: slow, Status: true, Timeout: msPtr(5000)},
	}

	gatherer := NewGatherer(NewDSPClient(testLogger()), testLogger())
	req := &openrtb2.BidRequest{ID: "req-1", Imp: []openrtb2.Imp{{ID: "i1"}}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results, err := gatherer.FetchBids(ctx, req, demands)
	if err != nil {
		t.Fatalf("FetchBids: %v", err)
	}
	if wall := time.Since(start); wall > time.Second {
		t.Errorf("cancellation did not propagate, gather took %v", wall)
	}
	if len(results) != 1 || results[0].Status == CallSuccess {
		t.Errorf("cancelled call must reach a classified failure: %+v", results)
	}
}

// Collect-all: a fast success never aborts a slower peer; every call
// reaches a terminal outcome.
func TestFetchBidsCollectsAllOutcomes(t *testing.T) {
	slow := httptestSlowServer(t, 150*time.Millisecond, 3.0)
	demands := []Demand{
		{ID: 1, Name: "fast_dsp", URL: priceServer(t, 1.0), Status: true, Timeout: msPtr(500)},
		{ID: 2, Name: "slow_dsp", URL: slow, Status: true, Timeout: msPtr(500)},
	}

	gatherer := NewGatherer(NewDSPClient(testLogger()), testLogger())
	req := &openrtb2.BidRequest{ID: "req-1", Imp: []openrtb2.Imp{{ID: "i1"}}}

	results, err := gatherer.FetchBids(context.Background(), req, demands)
	if err != nil {
		t.Fatalf("FetchBids: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].DSPID != 2 || results[0].Status != CallSuccess {
		t.Errorf("slow success must still be gathered and ranked first: %+v", results[0])
	}
}
