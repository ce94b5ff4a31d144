package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"pricewatch_bot/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultFetchSize = 48
	lidlCurrency     = "EUR"
	lidlBase         = "https://www.lidl.nl"
	maxBodySize      = 10 * 1024 * 1024
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// Lidl fetches search results from the Lidl catalog's JSON search API.
type Lidl struct {
	client     HTTPClient
	maxRetries uint64
	backoff    time.Duration
	maxPages   int
}

// NewLidl creates a Lidl source using the given HTTP client.
func NewLidl(client HTTPClient) *Lidl {
	return &Lidl{
		client:     client,
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		maxPages:   20,
	}
}

// Fetch runs the full paginated search for the given search URL and returns
// all items in page order. An item that shifts across a page boundary
// between requests shows up on both pages; only its first occurrence is
// kept, so the returned codes are unique.
func (l *Lidl) Fetch(ctx context.Context, searchParams string) ([]model.Item, error) {
	apiURL, err := ConvertURLToAPI(searchParams)
	if err != nil {
		return nil, &FetchError{Reason: "invalid search url", Err: err}
	}
	fetchSize := fetchSizeFrom(apiURL)

	now := time.Now().UTC()
	seen := make(map[string]struct{})
	var all []model.Item
	for page := 0; page < l.maxPages; page++ {
		pageURL := withParam(apiURL, "offset", strconv.Itoa(page*fetchSize))
		items, err := l.getPage(ctx, pageURL, now)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if _, dup := seen[it.Code]; dup {
				continue
			}
			seen[it.Code] = struct{}{}
			all = append(all, it)
		}
		if len(items) < fetchSize {
			break
		}
	}
	return all, nil
}

func (l *Lidl) getPage(ctx context.Context, pageURL string, seenAt time.Time) ([]model.Item, error) {
	var body []byte
	backoff := retry.WithMaxRetries(l.maxRetries, retry.NewExponential(l.backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
		req.Header.Set("Accept", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return retry.RetryableError(&FetchError{Reason: "request failed", Err: err})
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(&FetchError{Reason: "server error", Status: resp.StatusCode})
		}
		if resp.StatusCode != http.StatusOK {
			return &FetchError{Reason: "unexpected status", Status: resp.StatusCode}
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return retry.RetryableError(&FetchError{Reason: "read body", Err: err})
		}
		return nil
	})
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{Reason: "request failed", Err: err}
		}
		return nil, fe
	}

	items, err := parseItems(body, seenAt)
	if err != nil {
		return nil, &FetchError{Reason: "parse response", Err: err}
	}
	return items, nil
}

// ConvertURLToAPI turns a lidl.nl search page URL into its JSON API
// equivalent: the /q/api/ path prefix plus the query parameters the API
// requires, preserving any the user already set.
func ConvertURLToAPI(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute url: %q", rawURL)
	}

	switch {
	case strings.Contains(u.Path, "/q/api/"):
		// Already an API path.
	case strings.Contains(u.Path, "/q/"):
		u.Path = strings.Replace(u.Path, "/q/", "/q/api/", 1)
	default:
		u.Path = "/q/api" + u.Path
	}

	q := u.Query()
	for key, def := range map[string]string{
		"fetchsize":    strconv.Itoa(defaultFetchSize),
		"locale":       "nl_NL",
		"assortment":   "NL",
		"version":      "2.1.0",
		"idsOnly":      "false",
		"productsOnly": "true",
	} {
		if !q.Has(key) {
			q.Set(key, def)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func fetchSizeFrom(apiURL string) int {
	u, err := url.Parse(apiURL)
	if err != nil {
		return defaultFetchSize
	}
	n, err := strconv.Atoi(u.Query().Get("fetchsize"))
	if err != nil || n <= 0 {
		return defaultFetchSize
	}
	return n
}

func withParam(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// The API has shipped several response shapes; items live either at the top
// level or under results.
type lidlResponse struct {
	Items    []lidlItem `json:"items"`
	Products []lidlItem `json:"products"`
	Results  struct {
		Products []lidlItem `json:"products"`
	} `json:"results"`
}

type lidlItem struct {
	Code           flexString `json:"code"`
	ID             flexString `json:"id"`
	Label          string     `json:"label"`
	Name           string     `json:"name"`
	Price          *lidlPrice `json:"price"`
	MouseoverImage string     `json:"mouseoverImage"`
	CanonicalURL   string     `json:"canonicalUrl"`
	Gridbox        struct {
		Data struct {
			Price         *lidlPrice `json:"price"`
			Image         string     `json:"image"`
			CanonicalPath string     `json:"canonicalPath"`
			FullTitle     string     `json:"fullTitle"`
		} `json:"data"`
	} `json:"gridbox"`
}

type lidlPrice struct {
	Price    json.Number `json:"price"`
	OldPrice json.Number `json:"oldPrice"`
}

// flexString accepts both JSON strings and numbers; product codes appear as
// either depending on the API version.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

func parseItems(body []byte, seenAt time.Time) ([]model.Item, error) {
	var resp lidlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	raw := resp.Items
	if len(raw) == 0 {
		raw = resp.Products
	}
	if len(raw) == 0 {
		raw = resp.Results.Products
	}

	items := make([]model.Item, 0, len(raw))
	for _, ri := range raw {
		it, ok := convertItem(ri, seenAt)
		if !ok {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

func convertItem(ri lidlItem, seenAt time.Time) (model.Item, bool) {
	code := string(ri.Code)
	if code == "" {
		code = string(ri.ID)
	}
	if code == "" {
		return model.Item{}, false
	}

	name := ri.Label
	if name == "" {
		name = ri.Name
	}
	if name == "" {
		name = ri.Gridbox.Data.FullTitle
	}

	price := ri.Gridbox.Data.Price
	if price == nil {
		price = ri.Price
	}
	if price == nil || price.Price == "" {
		return model.Item{}, false
	}
	dec, err := decimal.NewFromString(price.Price.String())
	if err != nil {
		return model.Item{}, false
	}

	image := ri.MouseoverImage
	if image == "" {
		image = ri.Gridbox.Data.Image
	}

	path := ri.CanonicalURL
	if path == "" {
		path = ri.Gridbox.Data.CanonicalPath
	}
	var productURL string
	if path != "" {
		productURL = lidlBase + path
	}

	return model.Item{
		Code:       code,
		Name:       name,
		Price:      dec,
		Currency:   lidlCurrency,
		ProductURL: productURL,
		ImageURL:   image,
		LastSeenAt: seenAt,
	}, true
}
