package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/http"
	neturl "net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var (
	pdfLinkExpr  = regexp.MustCompile(`(?i)circular.*\.pdf`)
	pdfNameExpr  = regexp.MustCompile(`(?i)([A-Z0-9-]+)\.pdf`)
	rowDateExpr  = regexp.MustCompile(`(\d{1,2}[-/]\d{1,2}[-/]\d{4})`)
	rowDateForms = []string{"02-01-2006", "02/01/2006"}
)

// FeedSource reads an RSS 2.0 feed of published circulars.
type FeedSource struct {
	url    string
	client *http.Client
}

// NewFeedSource wires an HTTP client; a nil client gets a 30s timeout.
func NewFeedSource(url string, client *http.Client) *FeedSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FeedSource{url: url, client: client}
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
}

// Fetch downloads and parses the feed.
func (f *FeedSource) Fetch(ctx context.Context) ([]Discovery, error) {
	if f.url == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}
	req.Header.Set("User-Agent", "regwatchd/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	discoveries := make([]Discovery, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		if item.Link == "" {
			continue
		}
		externalID := item.GUID
		if externalID == "" {
			externalID = externalIDFromURL(item.Link)
		}
		published := time.Now().UTC()
		if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
			published = t
		} else if t, err := time.Parse(time.RFC1123, item.PubDate); err == nil {
			published = t
		}
		discoveries = append(discoveries, Discovery{
			ExternalID: externalID,
			Title:      strings.TrimSpace(item.Title),
			Published:  published,
			SourceURL:  f.url,
			PDFURL:     item.Link,
		})
	}
	return discoveries, nil
}

// ScrapeSource extracts circular PDF links from the regulator's listing
// page. Used when the feed is unavailable or empty.
type ScrapeSource struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewScrapeSource wires an HTTP client; a nil client gets a 30s timeout.
func NewScrapeSource(url string, client *http.Client, logger *zap.Logger) *ScrapeSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapeSource{url: url, client: client, logger: logger}
}

// Fetch scrapes the listing page for circular PDF links.
func (s *ScrapeSource) Fetch(ctx context.Context) ([]Discovery, error) {
	if s.url == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building scrape request: %w", err)
	}
	req.Header.Set("User-Agent", "regwatchd/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting listing page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing listing page: %w", err)
	}

	base := strings.TrimSuffix(baseOf(s.url), "/")
	var discoveries []Discovery
	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !pdfLinkExpr.MatchString(href) {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = base + "/" + strings.TrimPrefix(href, "/")
		}
		discoveries = append(discoveries, Discovery{
			ExternalID: externalIDFromURL(href),
			Title:      strings.TrimSpace(sel.Text()),
			Published:  dateNearLink(sel),
			SourceURL:  s.url,
			PDFURL:     href,
		})
	})

	s.logger.Debug("scraped listing page", zap.Int("found", len(discoveries)))
	return discoveries, nil
}

// dateNearLink pulls a dd-mm-yyyy date out of the link's table row, falling
// back to yesterday when no date is printed.
func dateNearLink(sel *goquery.Selection) time.Time {
	row := sel.Closest("tr")
	if row.Length() > 0 {
		if m := rowDateExpr.FindString(row.Text()); m != "" {
			for _, form := range rowDateForms {
				if t, err := time.Parse(form, m); err == nil {
					return t
				}
			}
		}
	}
	return time.Now().UTC().Add(-24 * time.Hour)
}

// externalIDFromURL derives a stable identifier from the PDF file name, or
// hashes the URL when the name carries no usable token.
func externalIDFromURL(url string) string {
	if m := pdfNameExpr.FindStringSubmatch(url); m != nil {
		return "REG-" + strings.ToUpper(m[1])
	}
	sum := md5.Sum([]byte(url))
	return "REG-" + hex.EncodeToString(sum[:])[:12]
}

func baseOf(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
