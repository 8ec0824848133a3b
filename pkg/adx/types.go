package adx

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
)

// AdType is the placement ad format.
type AdType int

const (
	AdTypeNative AdType = 1
	AdTypeBanner AdType = 2
	AdTypeVideo  AdType = 3
)

// Placement status values used in the static config files.
const (
	PlacementEnabled  = 1
	PlacementDisabled = 2
)

// Demand represents one DSP endpoint the exchange solicits bids from.
// A Demand is immutable once published by the Catalog; reloads replace
// the whole set.
type Demand struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Status  bool   `json:"status"`
	Timeout *int64 `json:"timeout,omitempty"` // per-DSP deadline in ms, >= 100
}

// Validate checks the catalog invariants for a single demand record.
func (d *Demand) Validate() error {
	if d.ID == 0 {
		return fmt.Errorf("demand %q: id must be > 0", d.Name)
	}
	if d.Name == "" {
		return fmt.Errorf("demand %d: name is empty", d.ID)
	}
	if strings.ContainsAny(d.Name, " \t\n") {
		return fmt.Errorf("demand %d: name %q contains whitespace", d.ID, d.Name)
	}
	if _, err := url.Parse(d.URL); err != nil || d.URL == "" {
		return fmt.Errorf("demand %d: invalid url %q", d.ID, d.URL)
	}
	if d.Timeout != nil && *d.Timeout < 100 {
		return fmt.Errorf("demand %d: timeout %dms below minimum 100ms", d.ID, *d.Timeout)
	}
	return nil
}

// EffectiveDeadline resolves the deadline for one bid RPC: the per-DSP
// timeout when set, else the request tmax, else 250ms.
func (d *Demand) EffectiveDeadline(tmax int64) time.Duration {
	if d.Timeout != nil && *d.Timeout > 0 {
		return time.Duration(*d.Timeout) * time.Millisecond
	}
	if tmax > 0 {
		return time.Duration(tmax) * time.Millisecond
	}
	return DefaultBidDeadline
}

// SSP identifies a supply-side platform sending auctions to the exchange.
// QPS is the declared query budget; it is informational only.
type SSP struct {
	ID   uint64 `json:"id"`
	UUID string `json:"uuid"`
	Name string `json:"name"`
	QPS  uint32 `json:"qps"`
}

// SspPlacement maps an SSP-side placement identifier to an ad type.
type SspPlacement struct {
	SspID       uint64 `json:"ssp_id"`
	SspUUID     string `json:"ssp_uuid"`
	PlacementID string `json:"placement_id"`
	AdType      AdType `json:"ad_type"`
	UpdateTime  int64  `json:"update_time"`
	Status      int    `json:"status"` // 1=enabled, 2=disabled
}

// DspPlacement maps a DSP-side tag to its custom ad type and profit rate.
// Auth is a free-form JSON blob carrying size constraints.
type DspPlacement struct {
	DspID        uint64  `json:"dsp_id"`
	DspUUID      string  `json:"dsp_uuid"`
	TagID        string  `json:"tag_id"`
	CustomAdType string  `json:"custom_ad_type"`
	ProfitRate   float64 `json:"profit_rate"`
	Auth         string  `json:"auth"`
	UpdateTime   int64   `json:"update_time"`
	Status       int     `json:"status"`
}

// CallStatus classifies the outcome of one DSP bid RPC. The engine
// switches on the tag; there is no error subtyping.
type CallStatus string

const (
	CallSuccess         CallStatus = "success"
	CallInvalidResponse CallStatus = "invalid_response"
	CallParseError      CallStatus = "json_parse_error"
	CallTimeout         CallStatus = "timeout"
)

// DSPResult is the terminal outcome of one DSP call. Response is never
// nil: failed calls carry an empty BidResponse. TopPrice is the maximum
// bid price in the response, or 0 when there are no bids.
type DSPResult struct {
	DSPID     uint64
	URL       string
	TopPrice  float64
	Response  *openrtb2.BidResponse
	Status    CallStatus
	ElapsedMS int64
}

// Context carries one auction through the pipeline. It is created when
// the request arrives and dropped when the response is sent.
type Context struct {
	Request   *openrtb2.BidRequest
	SSP       SSP
	Placement SspPlacement
	Start     time.Time
	DSPCalls  []DSPResult
}

// NewContext builds the per-request context with a monotonic start instant.
func NewContext(req *openrtb2.BidRequest, ssp SSP, placement SspPlacement) *Context {
	return &Context{
		Request:   req,
		SSP:       ssp,
		Placement: placement,
		Start:     time.Now(),
	}
}

// ElapsedMS is the wall time since the request arrived.
func (c *Context) ElapsedMS() int64 {
	return time.Since(c.Start).Milliseconds()
}
