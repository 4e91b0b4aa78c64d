package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

// githubAPIBase is swapped in tests.
var githubAPIBase = "https://github.com"

// QueryParamStrategy reads customer_id straight out of the current page
// URL. Cheapest and most reliable when present.
type QueryParamStrategy struct {
	Page PageSurface
}

func (s *QueryParamStrategy) Name() string { return "url_query_param" }

func (s *QueryParamStrategy) Resolve(ctx context.Context) (int64, error) {
	location, err := s.Page.Location(ctx)
	if err != nil {
		return 0, err
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return 0, core.WrapError(core.KindParse, "parse page url", err)
	}
	raw := parsed.Query().Get("customer_id")
	if raw == "" {
		return 0, core.NewError(core.KindIdentityNotFound, "no customer_id query param")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.WrapError(core.KindParse, "customer_id query param", err)
	}
	return id, nil
}

// APIUserStrategy calls the private /api/v3/user endpoint only visible to
// authenticated sessions and reads the account id from it.
type APIUserStrategy struct {
	Client *http.Client
}

func (s *APIUserStrategy) Name() string { return "api_user_endpoint" }

func (s *APIUserStrategy) Resolve(ctx context.Context) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, githubAPIBase+"/api/v3/user", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, core.WrapError(core.KindNetwork, "fetch user endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, core.NewError(core.KindNetwork, fmt.Sprintf("user endpoint HTTP %d", resp.StatusCode))
	}

	var payload struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, core.WrapError(core.KindParse, "decode user endpoint response", err)
	}
	if payload.ID <= 0 {
		return 0, core.NewError(core.KindIdentityNotFound, "user endpoint returned no id")
	}
	return payload.ID, nil
}

// EmbeddedDataStrategy evaluates the JSON blob GitHub injects into the
// billing page via a react-app embeddedData script tag and walks
// payload.customer.customerId.
type EmbeddedDataStrategy struct {
	Page PageSurface
}

func (s *EmbeddedDataStrategy) Name() string { return "embedded_script_data" }

const embeddedDataExpr = `(() => {
	const el = document.querySelector('script[type="application/json"][data-target="react-app.embeddedData"]');
	return el ? el.textContent : "";
})()`

func (s *EmbeddedDataStrategy) Resolve(ctx context.Context) (int64, error) {
	var raw string
	if err := s.Page.Evaluate(ctx, embeddedDataExpr, &raw); err != nil {
		return 0, err
	}
	if strings.TrimSpace(raw) == "" {
		return 0, core.NewError(core.KindIdentityNotFound, "no embedded data script tag")
	}

	var blob struct {
		Payload struct {
			Customer struct {
				CustomerID int64 `json:"customerId"`
			} `json:"customer"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return 0, core.WrapError(core.KindParse, "parse embedded data blob", err)
	}
	if blob.Payload.Customer.CustomerID <= 0 {
		return 0, core.NewError(core.KindIdentityNotFound, "embedded data carries no customer id")
	}
	return blob.Payload.Customer.CustomerID, nil
}

// Raw markup patterns for the last-resort scan, in match order.
var markupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`customerId":(\d+)`),
	regexp.MustCompile(`customerId&quot;:(\d+)`),
	regexp.MustCompile(`customer_id=(\d+)`),
}

// MarkupScanStrategy regex-scans the raw page markup. Least reliable,
// tried last.
type MarkupScanStrategy struct {
	Page PageSurface
}

func (s *MarkupScanStrategy) Name() string { return "markup_scan" }

func (s *MarkupScanStrategy) Resolve(ctx context.Context) (int64, error) {
	html, err := s.Page.HTML(ctx)
	if err != nil {
		return 0, err
	}
	for _, pattern := range markupPatterns {
		match := pattern.FindStringSubmatch(html)
		if len(match) != 2 {
			continue
		}
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		return id, nil
	}
	return 0, core.NewError(core.KindIdentityNotFound, "no customer id pattern in markup")
}

// DefaultStrategies assembles the production chain in priority order.
func DefaultStrategies(page PageSurface, client *http.Client) []Strategy {
	return []Strategy{
		&QueryParamStrategy{Page: page},
		&APIUserStrategy{Client: client},
		&EmbeddedDataStrategy{Page: page},
		&MarkupScanStrategy{Page: page},
	}
}
