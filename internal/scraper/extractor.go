// Package scraper fetches product pages and extracts prices from them.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/metrics"
)

const requestTimeout = 30 * time.Second

// userAgents is rotated per product so repeated fetches of the same
// retailer don't present a single fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// priceSelectors is tried in order; the JSON-LD entry is handled specially.
var priceSelectors = []string{
	"span.a-price-whole",
	"span#priceblock_dealprice",
	"span#priceblock_ourprice",
	"span.a-price.a-text-price.a-size-medium.apexPriceToPay .a-offscreen",
	"span.a-price .a-offscreen",
	"span.a-price-range .a-price .a-offscreen",
	".a-price .a-offscreen",
	"span.a-price-whole.a-color-price",
	"td.a-color-price.a-size-medium",
	".a-price-whole",
	"span[data-a-size='xl'] .a-price-whole",
	"#price_inside_buybox",
	".sx-price-whole",
	".a-size-medium.a-color-price",
	"span.a-size-base.a-color-price",
	".a-color-price.header-price",
	".a-price-lg .a-price-whole",
	"span.a-size-large.a-color-price",
	jsonLDSelector,
}

const jsonLDSelector = `script[type="application/ld+json"]`

// Extractor implements domain.Extractor against live product pages. All
// outbound fetches share a rate limiter and a circuit breaker so a broken
// or throttling retailer does not burn every poll tick on timeouts.
type Extractor struct {
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	clock   clockwork.Clock
}

func New(ratePerSecond float64, clock clockwork.Clock) *Extractor {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "scraper",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Extractor{
		client:  &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		breaker: breaker,
		clock:   clock,
	}
}

// Extract fetches url and extracts a price. Failures of any kind are
// returned as error-tagged samples, never as Go errors.
func (e *Extractor) Extract(ctx context.Context, key domain.SubscriptionKey, url string) domain.PriceSample {
	sample := domain.PriceSample{
		ProductID: key.ProductID,
		UserID:    key.UserID,
		Timestamp: e.clock.Now(),
	}

	start := e.clock.Now()
	defer func() {
		metrics.ExtractDuration.Observe(e.clock.Since(start).Seconds())
	}()

	doc, err := e.fetch(ctx, url, key.ProductID)
	if err != nil {
		sample.Err = fmt.Sprintf("Request failed: %v", err)
		return sample
	}

	price, selector, found := extractPrice(doc)
	if !found {
		sample.Err = "Price not found with any selector"
		return sample
	}

	sample.Price = price
	sample.Selector = selector
	return sample
}

// FetchProductName scrapes the product title used when a product is first
// tracked. Unlike Extract, a fetch failure is a real error here: the
// caller rejects the track request.
func (e *Extractor) FetchProductName(ctx context.Context, url string) (string, error) {
	doc, err := e.fetch(ctx, url, 0)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(doc.Find("span#productTitle").First().Text())
	if title == "" {
		return "Unknown Product", nil
	}
	return title, nil
}

func (e *Extractor) fetch(ctx context.Context, url string, productID int64) (*goquery.Document, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := e.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		setBrowserHeaders(req, productID)

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		return goquery.NewDocumentFromReader(resp.Body)
	})
	if err != nil {
		return nil, err
	}

	return result.(*goquery.Document), nil
}

func setBrowserHeaders(req *http.Request, productID int64) {
	req.Header.Set("User-Agent", userAgents[int(productID)%len(userAgents)])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Cache-Control", "max-age=0")
}

// extractPrice walks the selector cascade and reports which selector hit.
func extractPrice(doc *goquery.Document) (price float64, selector string, found bool) {
	for _, sel := range priceSelectors {
		if sel == jsonLDSelector {
			if p, ok := extractPriceFromJSONLD(doc); ok {
				return p, "JSON-LD", true
			}
			continue
		}

		var hit float64
		var ok bool
		doc.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if p, perr := parsePrice(el.Text()); perr == nil && p != 0 {
				hit, ok = p, true
				return false
			}
			return true
		})
		if ok {
			return hit, sel, true
		}
	}
	return 0, "", false
}

func parsePrice(text string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	cleaned = strings.TrimLeft(cleaned, "$€£₹ ")
	return strconv.ParseFloat(cleaned, 64)
}

func extractPriceFromJSONLD(doc *goquery.Document) (float64, bool) {
	var price float64
	var found bool

	doc.Find(jsonLDSelector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(el.Text()), &data); err != nil {
			return true
		}
		if p, ok := priceFromJSONValue(data); ok {
			price, found = p, true
			return false
		}
		return true
	})

	return price, found
}

// priceFromJSONValue recursively searches a decoded JSON-LD document for a
// price-like field, descending into offers and nested structures.
func priceFromJSONValue(value any) (float64, bool) {
	switch v := value.(type) {
	case map[string]any:
		for _, field := range []string{"price", "lowPrice", "highPrice", "value"} {
			raw, ok := v[field]
			if !ok {
				continue
			}
			switch n := raw.(type) {
			case float64:
				if n != 0 {
					return n, true
				}
			case string:
				if p, err := parsePrice(n); err == nil && p != 0 {
					return p, true
				}
			}
		}

		if offers, ok := v["offers"]; ok {
			if p, ok := priceFromJSONValue(offers); ok {
				return p, true
			}
		}

		for _, nested := range v {
			switch nested.(type) {
			case map[string]any, []any:
				if p, ok := priceFromJSONValue(nested); ok {
					return p, true
				}
			}
		}

	case []any:
		for _, item := range v {
			if p, ok := priceFromJSONValue(item); ok {
				return p, true
			}
		}
	}

	return 0, false
}
