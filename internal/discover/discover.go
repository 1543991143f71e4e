// Package discover extracts candidate PDF links from arbitrary web pages.
// Failures here are always soft: a page that cannot be fetched or parsed
// simply yields no links, keeping sibling seeds in a batch unaffected.
package discover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbeavitt/Harvest/pkg/logger"
	"golang.org/x/net/html"
)

// DefaultDeniedHosts are sites that aggressively interstitial or rate-limit
// anonymous scrapers; pages on them are skipped rather than fetched.
var DefaultDeniedHosts = []string{"twitter.com", "x.com", "facebook.com", "instagram.com"}

// browserHeaders make the page request look like an ordinary browser;
// several academic hosting sites serve bot requests a 403 otherwise.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
}

var log = logger.Get("Discover")

type Discoverer struct {
	client      *http.Client
	deniedHosts []string
}

func New(requestTimeout time.Duration, deniedHosts []string) *Discoverer {
	if deniedHosts == nil {
		deniedHosts = DefaultDeniedHosts
	}

	return &Discoverer{
		client:      &http.Client{Timeout: requestTimeout},
		deniedHosts: deniedHosts,
	}
}

// DiscoverLinks fetches the page at pageURL and returns every anchor that
// looks like a PDF link, in document order, possibly with duplicates (the
// caller is responsible for dedup and capping). It never returns an error:
// any failure is logged and yields an empty slice.
func (d *Discoverer) DiscoverLinks(ctx context.Context, pageURL string) []string {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		log.Warnf("Skipping malformed seed URL %s\n", pageURL)
		return nil
	}

	if d.isDenied(parsed.Hostname()) {
		log.Infof("Skipping denied host %s\n", parsed.Hostname())
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		log.Warnf("Failed to build request for %s: %s\n", pageURL, err.Error())
		return nil
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.Warnf("Failed to fetch %s: %s\n", pageURL, err.Error())
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warnf("Page %s returned status %d\n", pageURL, resp.StatusCode)
		return nil
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		log.Warnf("Failed to parse HTML from %s: %s\n", pageURL, err.Error())
		return nil
	}

	isSearchPage := strings.Contains(parsed.Hostname(), "google.")

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}

				var candidate string
				if isSearchPage {
					candidate = decodeSearchRedirect(attr.Val)
				} else {
					candidate = resolveHref(parsed, attr.Val)
				}

				if isPdfCandidate(candidate) {
					links = append(links, candidate)
				}
			}
		}

		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	log.Debugf("Found %d PDF candidates on %s\n", len(links), pageURL)
	return links
}

// SearchQueryURL builds a web search URL restricted to PDF results for the
// given keyword. The resulting page is consumed by DiscoverLinks.
func SearchQueryURL(keyword string) string {
	return fmt.Sprintf("https://www.google.com/search?q=%s", url.QueryEscape("filetype:pdf "+keyword))
}

func (d *Discoverer) isDenied(host string) bool {
	host = strings.ToLower(host)
	for _, denied := range d.deniedHosts {
		if host == denied || strings.HasSuffix(host, "."+denied) {
			return true
		}
	}

	return false
}

// decodeSearchRedirect unwraps the "/url?q=<target>&..." indirection that
// search result anchors use. Anything else is returned as-is.
func decodeSearchRedirect(href string) string {
	if !strings.HasPrefix(href, "/url?") {
		return href
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}

	return parsed.Query().Get("q")
}

func resolveHref(page *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}

	return page.ResolveReference(ref).String()
}

func isPdfCandidate(candidate string) bool {
	lowered := strings.ToLower(candidate)
	return (strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://")) &&
		strings.Contains(lowered, ".pdf")
}
