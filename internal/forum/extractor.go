// Package forum fetches listing pages from the community forum and turns
// them into question records.
package forum

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"forumscout/internal/domain"
)

const (
	DefaultBaseURL = "https://experienceleaguecommunities.adobe.com/t5/adobe-experience-manager-forms/bd-p/experience-manager-forms-qanda"

	DefaultPreviewMaxChars = 1500

	listingQuery     = "filter=unresolved&order=DESC&sort=date"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxHTMLSize      = 10 * 1024 * 1024
	unknownAuthor    = "Unknown"
)

// Selectors locate the parts of one listing row. Empty fields fall back
// to DefaultSelectors.
type Selectors struct {
	Item      string `yaml:"item"`
	TitleLink string `yaml:"title_link"`
	Author    string `yaml:"author"`
	Date      string `yaml:"date"`
	Stat      string `yaml:"stat"`
	Preview   string `yaml:"preview"`
	Topic     string `yaml:"topic"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		Item:      "div#messages > ul > li",
		TitleLink: "div.message-box div.spectrum-Heading--sizeM a.subject",
		Author:    "div.author a",
		Date:      "span.post-time",
		Stat:      "div[data-stat]",
		Preview:   "div.truncated-body",
		Topic:     "div.conversation-topics a.tag",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&s.Item, d.Item)
	fill(&s.TitleLink, d.TitleLink)
	fill(&s.Author, d.Author)
	fill(&s.Date, d.Date)
	fill(&s.Stat, d.Stat)
	fill(&s.Preview, d.Preview)
	fill(&s.Topic, d.Topic)
	return s
}

type Options struct {
	BaseURL         string
	Selectors       Selectors
	PageDelay       time.Duration
	PreviewMaxChars int
	Location        *time.Location
	UserAgent       string
}

// Page is one fetched listing page.
type Page struct {
	Number  int
	URL     string
	Rows    int
	Records []domain.QuestionRecord
}

// Extractor fetches and parses listing pages. Requests are spaced at
// least PageDelay apart.
type Extractor struct {
	client    *http.Client
	base      *url.URL
	opts      Options
	limiter   *rate.Limiter
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
}

func NewExtractor(client *http.Client, opts Options, logger *zap.Logger) (*Extractor, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid forum base url %q", opts.BaseURL)
	}
	opts.Selectors = opts.Selectors.withDefaults()
	if opts.PreviewMaxChars <= 0 {
		opts.PreviewMaxChars = DefaultPreviewMaxChars
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	limit := rate.Inf
	if opts.PageDelay > 0 {
		limit = rate.Every(opts.PageDelay)
	}

	sanitizer := bluemonday.StrictPolicy()
	sanitizer.AddSpaceWhenStrippingTag(true)

	return &Extractor{
		client:    client,
		base:      base,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
		sanitizer: sanitizer,
		logger:    logger,
	}, nil
}

// PageURL returns the listing URL for a 1-based page number.
func (e *Extractor) PageURL(page int) string {
	if page <= 1 {
		return e.base.String() + "?" + listingQuery
	}
	return fmt.Sprintf("%s/page/%d?%s", e.base.String(), page, listingQuery)
}

// FetchPage downloads and parses one listing page.
func (e *Extractor) FetchPage(ctx context.Context, page int) (Page, error) {
	pageURL := e.PageURL(page)
	if err := e.limiter.Wait(ctx); err != nil {
		return Page{}, fmt.Errorf("waiting to fetch page %d: %w", page, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch page %d: forum returned %s", page, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxHTMLSize))
	if err != nil {
		return Page{}, fmt.Errorf("parse page %d: %w", page, err)
	}

	rows, records := e.extract(doc)
	e.logger.Info("forum page fetched",
		zap.Int("page", page),
		zap.String("url", pageURL),
		zap.Int("rows", rows),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", time.Since(start)))

	return Page{Number: page, URL: pageURL, Rows: rows, Records: records}, nil
}

// ParsePage extracts records from an already downloaded listing page.
func (e *Extractor) ParsePage(r io.Reader) ([]domain.QuestionRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	_, records := e.extract(doc)
	return records, nil
}

func (e *Extractor) extract(doc *goquery.Document) (int, []domain.QuestionRecord) {
	var records []domain.QuestionRecord
	rows := doc.Find(e.opts.Selectors.Item)
	rows.Each(func(i int, row *goquery.Selection) {
		record, ok := e.parseRow(row)
		if !ok {
			e.logger.Debug("skipping forum row", zap.Int("index", i))
			return
		}
		records = append(records, record)
	})
	return rows.Length(), records
}

func (e *Extractor) parseRow(row *goquery.Selection) (domain.QuestionRecord, bool) {
	sel := e.opts.Selectors

	link := row.Find(sel.TitleLink).First()
	title := collapseSpace(link.Text())
	if title == "" {
		return domain.QuestionRecord{}, false
	}

	var questionURL string
	if href, ok := link.Attr("href"); ok && strings.TrimSpace(href) != "" {
		questionURL = e.resolve(href)
	}

	id, _ := row.Attr("data-id")
	id = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(id), "message-"))
	if id == "" {
		id = questionURL
	}
	if id == "" {
		return domain.QuestionRecord{}, false
	}

	author := collapseSpace(row.Find(sel.Author).First().Text())
	if author == "" {
		author = unknownAuthor
	}

	record := domain.QuestionRecord{
		ID:          id,
		Title:       title,
		URL:         questionURL,
		Author:      author,
		PublishedAt: ParseListingDate(row.Find(sel.Date).First().Text(), e.opts.Location),
		Topics:      []string{},
	}

	row.Find(sel.Stat).Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("data-stat")
		raw, _ := s.Attr("data-value")
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "views":
			record.Views = value
		case "likes", "kudos":
			record.Likes = value
		case "replies":
			record.Replies = value
		}
	})

	if preview := row.Find(sel.Preview).First(); preview.Length() > 0 {
		markup, err := preview.Html()
		if err == nil {
			record.Preview = e.cleanPreview(markup)
		}
	}

	row.Find(sel.Topic).Each(func(_ int, s *goquery.Selection) {
		if topic := collapseSpace(s.Text()); topic != "" {
			record.Topics = append(record.Topics, topic)
		}
	})

	return record, true
}

func (e *Extractor) resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return strings.TrimSpace(href)
	}
	return e.base.ResolveReference(ref).String()
}

func (e *Extractor) cleanPreview(markup string) string {
	text := html.UnescapeString(e.sanitizer.Sanitize(markup))
	text = collapseSpace(text)
	if r := []rune(text); len(r) > e.opts.PreviewMaxChars {
		text = string(r[:e.opts.PreviewMaxChars])
	}
	return text
}

// ParseListingDate reads the "M/D/YY" date that follows the last bullet in
// a post-time label. It returns the zero time when no date can be read.
func ParseListingDate(text string, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	if i := strings.LastIndex(text, "•"); i >= 0 {
		text = text[i+len("•"):]
	}
	text = strings.TrimSpace(text)
	for _, layout := range []string{"1/2/06", "1/2/2006", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
