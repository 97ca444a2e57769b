// Package crawlsite implements reconcile.Source against the
// gr.maharashtra.gov.in listing pages using a colly collector. Listings are
// paginated per department, newest first, which is what makes the daily
// early stop work.
package crawlsite

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
	"github.com/civicdatalab/gr-archiver/internal/reconcile"
)

const defaultUserAgent = "grarchiver/1.0 (+https://github.com/civicdatalab/gr-archiver)"

// Config controls the listing crawler.
type Config struct {
	// BaseURL is the listing endpoint. Department and page are appended as
	// query parameters.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// MaxPages bounds pagination per department. Zero means 1000.
	MaxPages int
	// Delay inserts a politeness pause between page fetches.
	Delay time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1000
	}
	return c
}

// Crawler fetches department listings.
type Crawler struct {
	cfg   Config
	clock func() time.Time
	log   *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, log *zap.Logger) *Crawler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Crawler{cfg: cfg.withDefaults(), clock: time.Now, log: log}
}

// Departments implements reconcile.Source using the static department map.
func (c *Crawler) Departments(_ context.Context) ([]string, error) {
	return ledger.DepartmentCodes(), nil
}

// ListDepartment implements reconcile.Source. Pages are fetched lazily; the
// sequence ends at the first empty page, the page cap, or when the consumer
// stops.
func (c *Crawler) ListDepartment(ctx context.Context, department string) iter.Seq2[reconcile.Page, error] {
	return func(yield func(reconcile.Page, error) bool) {
		crawlDate := c.clock().UTC().Format(ledger.DateLayout)
		for index := 1; index <= c.cfg.MaxPages; index++ {
			if err := ctx.Err(); err != nil {
				yield(reconcile.Page{}, err)
				return
			}
			rows, err := c.fetchPage(department, index, crawlDate)
			if err != nil {
				yield(reconcile.Page{}, fmt.Errorf("page %d: %w", index, err))
				return
			}
			if len(rows) == 0 {
				return
			}
			if !yield(reconcile.Page{Department: department, Index: index, Records: rows}, nil) {
				return
			}
			if c.cfg.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.cfg.Delay):
				}
			}
		}
	}
}

func (c *Crawler) fetchPage(department string, index int, crawlDate string) ([]reconcile.Discovery, error) {
	pageURL, err := c.pageURL(department, index)
	if err != nil {
		return nil, err
	}

	collector := colly.NewCollector(colly.UserAgent(c.cfg.UserAgent))
	collector.SetRequestTimeout(c.cfg.Timeout)

	var (
		rows     []reconcile.Discovery
		fetchErr error
	)
	collector.OnHTML("table tbody tr", func(e *colly.HTMLElement) {
		row := c.parseRow(e, crawlDate)
		if row.UniqueCode == "" {
			return
		}
		rows = append(rows, row)
	})
	collector.OnError(func(resp *colly.Response, err error) {
		fetchErr = fmt.Errorf("fetch %s: %w", pageURL, err)
	})

	if err := collector.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", pageURL, err)
	}
	collector.Wait()
	if fetchErr != nil {
		return nil, fetchErr
	}

	c.log.Debug("listing page",
		zap.String("department", department),
		zap.Int("page", index),
		zap.Int("rows", len(rows)))
	return rows, nil
}

// parseRow maps one listing table row. The site renders five cells:
// department name, title, unique code, GR date, and a download link.
func (c *Crawler) parseRow(e *colly.HTMLElement, crawlDate string) reconcile.Discovery {
	cells := e.ChildTexts("td")
	if len(cells) < 4 {
		return reconcile.Discovery{}
	}

	sourceURL := e.Request.AbsoluteURL(e.ChildAttr("td a[href]", "href"))
	departmentName := strings.TrimSpace(cells[0])
	rawCode := strings.TrimSpace(cells[2])

	code, err := ledger.CanonicalCode(rawCode, sourceURL)
	if err != nil {
		c.log.Debug("dropped row", zap.String("raw_code", rawCode), zap.Error(err))
		return reconcile.Discovery{}
	}
	return reconcile.Discovery{
		UniqueCode:     code,
		Title:          strings.TrimSpace(cells[1]),
		DepartmentName: departmentName,
		DepartmentCode: ledger.DepartmentCodeFromName(departmentName),
		GRDate:         ParseSiteDate(cells[3]),
		SourceURL:      sourceURL,
		CrawlDate:      crawlDate,
	}
}

func (c *Crawler) pageURL(department string, index int) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := base.Query()
	q.Set("department", department)
	q.Set("page", fmt.Sprintf("%d", index))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// ParseSiteDate normalizes the site's date rendering to YYYY-MM-DD. The site
// mixes dd-mm-yyyy and dd/mm/yyyy; an unparseable value maps to empty.
func ParseSiteDate(value string) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	for _, layout := range []string{"02-01-2006", "02/01/2006", ledger.DateLayout} {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format(ledger.DateLayout)
		}
	}
	return ""
}
