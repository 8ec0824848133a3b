package adx

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AuctionPriceMacro is the literal token substituted with the clearing
// price in the DSP-supplied creative. The exchange's own tracking
// fragments keep it unexpanded for the SSP to fill on impression fire.
const AuctionPriceMacro = "{AUCTION_PRICE}"

const (
	adxImpressionURL = "http://tk.rust-adx.com/impression?price={AUCTION_PRICE}"
	adxClickURL      = "http://tk.rust-adx.com/click?price={AUCTION_PRICE}"

	trackingPixel     = `<img src="` + adxImpressionURL + `" style="display:none;" />`
	vastImpressionTag = `<Impression><![CDATA[` + adxImpressionURL + `]]></Impression>`
)

// FormatPrice renders a clearing price as a decimal string for macro
// substitution (2.0 renders as "2").
func FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

// SubstituteAuctionPrice replaces every literal macro occurrence in the
// DSP portion of the creative with the final price. It runs before
// tracking injection so the injected fragments are never substituted.
func SubstituteAuctionPrice(adm string, finalPrice float64) string {
	return strings.ReplaceAll(adm, AuctionPriceMacro, FormatPrice(finalPrice))
}

// InjectTracking detects the creative format by inspection and appends
// the exchange-side tracking markup. Injection is single-application:
// applying it to an already-rewritten creative injects again.
//
//   - HTML banner: hidden pixel after the final </body>, else at end
//   - VAST video: <Impression> right after the first <InLine> opening tag
//   - native JSON: top-level ssp_impression_tracking / ssp_click_tracking
//   - anything else: passed through unchanged
func InjectTracking(adm string) string {
	switch {
	case strings.Contains(adm, "<html"):
		return injectBannerPixel(adm)
	case strings.Contains(adm, "<VAST"):
		return injectVASTImpression(adm)
	case strings.HasPrefix(strings.TrimLeft(adm, " \t\r\n"), "{"):
		return injectNativeTracking(adm)
	default:
		return adm
	}
}

func injectBannerPixel(adm string) string {
	if pos := strings.LastIndex(adm, "</body>"); pos >= 0 {
		insert := pos + len("</body>")
		return adm[:insert] + trackingPixel + adm[insert:]
	}
	return adm + trackingPixel
}

func injectVASTImpression(adm string) string {
	pos := strings.Index(adm, "<InLine>")
	if pos < 0 {
		return adm
	}
	insert := pos + len("<InLine>")
	return adm[:insert] + vastImpressionTag + adm[insert:]
}

func injectNativeTracking(adm string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(adm), &obj); err != nil {
		return adm
	}
	obj["ssp_impression_tracking"] = adxImpressionURL
	obj["ssp_click_tracking"] = adxClickURL
	rewritten, err := json.Marshal(obj)
	if err != nil {
		return adm
	}
	return string(rewritten)
}
