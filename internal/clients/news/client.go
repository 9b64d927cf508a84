// Package news aggregates the tech feeds shown by the briefing persona:
// Hacker News top stories, the Product Hunt RSS feed, and V2EX hot topics.
package news

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inksight/inksight-backend/internal/logger"
)

type Story struct {
	Title   string `json:"title"`
	Score   int    `json:"score"`
	URL     string `json:"url"`
	Summary string `json:"summary,omitempty"`
}

type Product struct {
	Name    string `json:"name"`
	Tagline string `json:"tagline"`
}

type Topic struct {
	Title string `json:"title"`
	Node  string `json:"node"`
}

type Client interface {
	HackerNewsTop(ctx context.Context, limit int) ([]Story, error)
	ProductHuntTop(ctx context.Context) (Product, error)
	V2EXHot(ctx context.Context, limit int) ([]Topic, error)
}

type client struct {
	log        *logger.Logger
	httpClient *http.Client
	hnBase     string
	phFeedURL  string
	v2exURL    string
}

func NewClient(log *logger.Logger) Client {
	return &client{
		log:        log.With("service", "NewsClient"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		hnBase:     "https://hacker-news.firebaseio.com/v0",
		phFeedURL:  "https://www.producthunt.com/feed",
		v2exURL:    "https://www.v2ex.com/api/topics/hot.json",
	}
}

// HackerNewsTop fetches the top story ids then the stories concurrently.
func (c *client) HackerNewsTop(ctx context.Context, limit int) ([]Story, error) {
	var ids []int
	if err := c.getJSON(ctx, c.hnBase+"/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("fetch hn top ids: %w", err)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	stories := make([]Story, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			var item struct {
				Title string `json:"title"`
				Score int    `json:"score"`
				URL   string `json:"url"`
			}
			if err := c.getJSON(gctx, fmt.Sprintf("%s/item/%d.json", c.hnBase, id), &item); err != nil {
				return err
			}
			stories[i] = Story{Title: item.Title, Score: item.Score, URL: item.URL}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch hn stories: %w", err)
	}
	c.log.Info("Fetched HN stories", "count", len(stories))
	return stories, nil
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
	// Atom fallback
	Entries []rssItem `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Summary     string `xml:"summary"`
	Content     string `xml:"content"`
}

// ProductHuntTop returns the first product in today's feed.
func (c *client) ProductHuntTop(ctx context.Context) (Product, error) {
	raw, err := c.getRaw(ctx, c.phFeedURL)
	if err != nil {
		return Product{}, fmt.Errorf("fetch ph feed: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return Product{}, fmt.Errorf("parse ph feed: %w", err)
	}
	items := feed.Items
	if len(items) == 0 {
		items = feed.Entries
	}
	if len(items) == 0 {
		return Product{}, fmt.Errorf("ph feed has no items")
	}

	first := items[0]
	desc := first.Description
	if desc == "" {
		desc = first.Summary
	}
	if desc == "" {
		desc = first.Content
	}
	tagline := strings.TrimSpace(htmlTagRe.ReplaceAllString(desc, ""))
	if len(tagline) > 100 {
		tagline = tagline[:100]
	}

	p := Product{Name: strings.TrimSpace(first.Title), Tagline: tagline}
	c.log.Info("Fetched PH product", "name", p.Name)
	return p, nil
}

func (c *client) V2EXHot(ctx context.Context, limit int) ([]Topic, error) {
	var payload []struct {
		Title string `json:"title"`
		Node  struct {
			Title string `json:"title"`
		} `json:"node"`
	}
	if err := c.getJSON(ctx, c.v2exURL, &payload); err != nil {
		return nil, fmt.Errorf("fetch v2ex hot: %w", err)
	}
	if len(payload) > limit {
		payload = payload[:limit]
	}
	topics := make([]Topic, 0, len(payload))
	for _, t := range payload {
		topics = append(topics, Topic{Title: t.Title, Node: t.Node.Title})
	}
	return topics, nil
}

func (c *client) getJSON(ctx context.Context, rawURL string, out any) error {
	raw, err := c.getRaw(ctx, rawURL)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *client) getRaw(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}
