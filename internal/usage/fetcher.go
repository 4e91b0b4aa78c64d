// Package usage retrieves and normalizes premium-request usage from the
// private billing endpoints behind the GitHub settings page.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

// billingAPIBase is swapped in tests.
var billingAPIBase = "https://github.com"

const (
	cardPath  = "/settings/billing/copilot_usage_card"
	tablePath = "/settings/billing/copilot_usage_table"
	// period=3 selects the current billing period window; the other
	// table params mirror what the page itself sends.
	cardQuery  = "?customer_id=%d&period=3"
	tableQuery = "?customer_id=%d&group=0&period=3&query=&page=1"
)

// Fetcher issues the two authenticated data requests. It never touches the
// browsing context; it rides the session's cookie-carrying HTTP client.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Result carries both endpoint outcomes independently: a history failure
// never discards a successful summary.
type Result struct {
	Summary    core.UsageSummary
	SummaryErr error
	RawHistory []byte
	HistoryErr error
}

func (r Result) Err() error {
	if r.SummaryErr != nil {
		return r.SummaryErr
	}
	return r.HistoryErr
}

// Fetch pulls the usage card and usage table for the given customer. The
// two calls are sequential: they share one session.
func (f *Fetcher) Fetch(ctx context.Context, customerID int64) Result {
	var res Result
	res.Summary, res.SummaryErr = f.FetchSummary(ctx, customerID)
	res.RawHistory, res.HistoryErr = f.FetchHistory(ctx, customerID)
	return res
}

// FetchSummary retrieves the usage card roll-up. The payload's field
// naming has been observed in both snake_case and camelCase over time, so
// decoding goes through a tolerant picker with every field defaulting to 0.
func (f *Fetcher) FetchSummary(ctx context.Context, customerID int64) (core.UsageSummary, error) {
	url := billingAPIBase + cardPath + fmt.Sprintf(cardQuery, customerID)
	body, err := f.get(ctx, url)
	if err != nil {
		return core.UsageSummary{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return core.UsageSummary{}, core.WrapError(core.KindParse, "decode usage card", err)
	}

	return core.UsageSummary{
		NetBilledAmount:     pickFloat(fields, "net_billed_amount", "netBilledAmount"),
		NetQuantity:         pickInt(fields, "net_quantity", "netQuantity"),
		DiscountQuantity:    pickInt(fields, "discount_quantity", "discountQuantity"),
		Entitlement:         pickInt(fields, "user_premium_request_entitlement", "userPremiumRequestEntitlement"),
		FilteredEntitlement: pickInt(fields, "filtered_user_premium_request_entitlement", "filteredUserPremiumRequestEntitlement"),
	}, nil
}

// FetchHistory retrieves the raw usage table payload for the normalizer.
func (f *Fetcher) FetchHistory(ctx context.Context, customerID int64) ([]byte, error) {
	url := billingAPIBase + tablePath + fmt.Sprintf(tableQuery, customerID)
	return f.get(ctx, url)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, core.WrapError(core.KindNetwork, "billing endpoint", err)
	}
	defer resp.Body.Close()

	// A redirect chain ending on the login surface means the session died
	// under us.
	if resp.Request != nil && resp.Request.URL != nil {
		final := resp.Request.URL.String()
		if strings.Contains(final, "github.com/login") || strings.Contains(final, "github.com/session") {
			return nil, core.NewError(core.KindSessionExpired, "billing endpoint redirected to login")
		}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, core.NewError(core.KindSessionExpired, fmt.Sprintf("billing endpoint HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewError(core.KindNetwork, fmt.Sprintf("billing endpoint HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.WrapError(core.KindNetwork, "read billing response", err)
	}
	return body, nil
}

func pickFloat(fields map[string]json.RawMessage, names ...string) float64 {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var v float64
		if json.Unmarshal(raw, &v) == nil {
			return v
		}
		// Currency-formatted string variant.
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if parsed, ok := parseFlexibleNumber(s); ok {
				return parsed
			}
		}
	}
	return 0
}

func pickInt(fields map[string]json.RawMessage, names ...string) int {
	return int(pickFloat(fields, names...))
}
