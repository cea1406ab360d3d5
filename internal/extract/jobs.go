package extract

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/company-scraper/internal/browser"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/ratelimit"
)

const (
	jobsSearchSelector   = ".org-jobs-job-search-form-module__action-container a"
	jobsListSelector     = "ul.scaffold-layout__list-container"
	jobsItemSelector     = "ul.scaffold-layout__list-container > li"
	jobsHeaderSelector   = "header.scaffold-layout__list-header"
	jobsLocationSelector = `input[aria-label="City, state, or zip code"]`
	paginationSelector   = "ul.artdeco-pagination__pages li"
	paginationAttr       = "data-test-pagination-page-btn"

	jobTitleSelector       = ".job-details-jobs-unified-top-card__job-title"
	jobCompanySelector     = ".job-view-layout .job-details-jobs-unified-top-card__company-name"
	jobInsightsSelector    = ".job-view-layout .tvm__text"
	jobPrimarySelector     = ".job-details-jobs-unified-top-card__primary-description-without-tagline"
	jobTertiarySelector    = ".job-details-jobs-unified-top-card__tertiary-description"
	jobDescriptionSelector = ".jobs-description-content__text"

	noJobsHeader = "Jobs you may be interested in"

	openSearchScript = `(selector) => {
		const search = document.querySelector(selector);
		if (!search) return false;
		search.target = '_self';
		search.click();
		return true;
	}`
)

var applicantsSuffix = regexp.MustCompile(` applicant(s?)`)

// JobsStrategy walks every result page of a company's job search and emits
// one JobRecord per listing.
type JobsStrategy struct {
	timing Timing
	logger *slog.Logger

	ViewportWidth  int
	ViewportHeight int

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewJobsStrategy(timing Timing, logger *slog.Logger) *JobsStrategy {
	if timing.Human == nil {
		timing.Human = ratelimit.Fixed(0)
	}
	return &JobsStrategy{
		timing:         timing,
		logger:         logger.With("component", "jobs_strategy"),
		ViewportWidth:  1300,
		ViewportHeight: 700,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *JobsStrategy) Kind() models.TaskKind {
	return models.KindCompanyJobs
}

func (s *JobsStrategy) Columns() []string {
	return models.JobRecordColumns
}

// Extract keeps every record parsed before a failure; the rows carry the
// failed status in that case.
func (s *JobsStrategy) Extract(ctx context.Context, page browser.Page, target string, opts Options) (res Result) {
	var jobs []models.JobRecord

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while extracting jobs", "url", target, "panic", r)
			res = s.result(target, StatusFailed, fmt.Sprintf("panic: %v", r), jobs)
		}
	}()

	if err := page.Goto(SubPage(target, "jobs")); err != nil {
		s.logger.Warn("navigation failed", "url", target, "error", err)
		return s.result(target, StatusFailed, err.Error(), nil)
	}
	settle(ctx, s.timing.Settle)

	if current := page.URL(); IsUnavailableURL(current) {
		s.logger.Info("jobs page unavailable", "url", target, "redirect", current)
		return s.result(target, StatusUnavailable, "page unavailable", nil)
	}

	if err := page.WaitForSelector(jobsSearchSelector, s.timing.Anchor); err != nil {
		s.logger.Error("can't find required element on the page", "url", target, "error", err)
		return s.result(target, StatusFailed, "missing elements", nil)
	}

	if err := s.openSearch(ctx, page, opts.JobLocation); err != nil {
		s.logger.Error("cannot open job search", "url", target, "error", err)
		return s.result(target, StatusFailed, err.Error(), nil)
	}

	html, err := page.Content()
	if err != nil {
		return s.result(target, StatusFailed, err.Error(), nil)
	}
	totalPages := ParseTotalPages(html)
	s.logger.Info("job pages found", "url", target, "total_pages", totalPages)

	for current := 1; current <= totalPages; current++ {
		s.logger.Debug("scraping job page", "url", target, "page", current)

		pageJobs, err := s.parsePage(ctx, page, opts.OnRecord)
		jobs = append(jobs, pageJobs...)
		if err != nil {
			s.logger.Error("cannot get data from page", "url", target, "page", current, "error", err)
			return s.result(target, StatusFailed, err.Error(), jobs)
		}

		if current == totalPages {
			break
		}

		s.moveMouse(page)
		if err := s.nextPage(ctx, page, current); err != nil {
			s.logger.Error("cannot open next job page", "url", target, "page", current, "error", err)
			return s.result(target, StatusFailed, err.Error(), jobs)
		}
		_ = ratelimit.Sleep(ctx, opts.PageDelay)
	}

	_ = ratelimit.Sleep(ctx, opts.PageDelay)

	return s.result(target, StatusSuccess, "", jobs)
}

func (s *JobsStrategy) result(target string, status Status, reason string, jobs []models.JobRecord) Result {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, job.Row(target, string(status)))
	}
	return Result{
		Target:  target,
		Status:  status,
		Reason:  reason,
		Rows:    rows,
		Records: len(jobs),
	}
}

func (s *JobsStrategy) openSearch(ctx context.Context, page browser.Page, location string) error {
	if _, err := page.Evaluate(openSearchScript, jobsSearchSelector); err != nil {
		return fmt.Errorf("open job search: %w", err)
	}
	if err := page.WaitForSelector(jobsListSelector, s.timing.Results); err != nil {
		return fmt.Errorf("job list did not load: %w", err)
	}

	if location == "" {
		return nil
	}
	if err := page.Fill(jobsLocationSelector, location); err != nil {
		return fmt.Errorf("type job location: %w", err)
	}
	if err := page.Press("Enter"); err != nil {
		return fmt.Errorf("submit job location: %w", err)
	}
	settle(ctx, s.timing.Results)

	return nil
}

func (s *JobsStrategy) parsePage(ctx context.Context, page browser.Page, onRecord func()) ([]models.JobRecord, error) {
	html, err := page.Content()
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	if strings.Contains(doc.Find(jobsHeaderSelector).First().Text(), noJobsHeader) {
		return nil, nil
	}

	count := doc.Find(jobsItemSelector).Length()
	jobs := make([]models.JobRecord, 0, count)

	for i := 1; i <= count; i++ {
		if err := page.Click(fmt.Sprintf("%s:nth-child(%d)", jobsItemSelector, i)); err != nil {
			return jobs, fmt.Errorf("open job %d: %w", i, err)
		}
		_ = s.timing.Human.Wait(ctx)

		detail, err := page.Content()
		if err != nil {
			return jobs, err
		}
		job, err := ParseJobDetail(detail, i, page.URL())
		if err != nil {
			return jobs, err
		}

		jobs = append(jobs, job)
		if onRecord != nil {
			onRecord()
		}
	}

	return jobs, nil
}

// nextPage clicks the button for page current+1, or the overflow button
// when that page is not listed, and waits until that page is the selected
// one. The result list itself is present on both pages.
func (s *JobsStrategy) nextPage(ctx context.Context, page browser.Page, current int) error {
	html, err := page.Content()
	if err != nil {
		return err
	}
	selector, ok := NextPageSelector(html, current)
	if !ok {
		return fmt.Errorf("no pagination control after page %d", current)
	}
	if err := page.Click(selector); err != nil {
		return err
	}
	if err := page.WaitForSelector(ActivePageSelector(current+1), s.timing.Results); err != nil {
		return fmt.Errorf("page %d did not load: %w", current+1, err)
	}
	settle(ctx, s.timing.Settle)
	return nil
}

func (s *JobsStrategy) moveMouse(page browser.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := browser.HumanizeInteraction(page, s.rnd, s.ViewportWidth, s.ViewportHeight); err != nil {
		s.logger.Debug("mouse move failed", "error", err)
	}
}

// ParseTotalPages reads the page number of the last pagination item. A
// missing or unreadable control means a single page.
func ParseTotalPages(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 1
	}
	value, _ := doc.Find(paginationSelector).Last().Attr(paginationAttr)
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// NextPageSelector returns a selector for the button leading to page
// current+1. When that page is hidden behind an ellipsis the second to last
// item is used instead.
func NextPageSelector(html string, current int) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	items := doc.Find(paginationSelector)

	next := strconv.Itoa(current + 1)
	found := false
	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if v, _ := item.Attr(paginationAttr); v == next {
			found = true
			return false
		}
		return true
	})
	if found {
		return fmt.Sprintf(`%s[%s="%s"] button`, paginationSelector, paginationAttr, next), true
	}

	if items.Length() < 2 {
		return "", false
	}
	return paginationSelector + ":nth-last-child(2) button", true
}

// ActivePageSelector matches the pagination button of page n once it is the
// selected page.
func ActivePageSelector(n int) string {
	return fmt.Sprintf(`%s[%s="%d"] button[aria-current="true"]`, paginationSelector, paginationAttr, n)
}

// ParseJobDetail reads the detail panel currently shown for the list item
// at index (1-based). Two panel layouts exist; both are handled.
func ParseJobDetail(html string, index int, pageURL string) (models.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("parse job panel: %w", err)
	}

	item := doc.Find(jobsItemSelector).Eq(index - 1)
	href, _ := item.Find("a").First().Attr("href")

	job := models.JobRecord{
		URL:         resolveURL(pageURL, href),
		Title:       textOf(doc.Selection, jobTitleSelector),
		Description: textOf(doc.Selection, jobDescriptionSelector),
	}

	var parts []string
	if doc.Find(jobTertiarySelector).Length() > 0 {
		job.CompanyName = textOf(doc.Selection, jobCompanySelector)
		doc.Find(jobInsightsSelector).Each(func(_ int, el *goquery.Selection) {
			text := CleanText(el.Text())
			if text != "" && text != "·" {
				parts = append(parts, text)
			}
		})
	} else {
		primary := strings.Split(textOf(doc.Selection, jobPrimarySelector), " · ")
		if len(primary) > 0 {
			job.CompanyName = strings.TrimSpace(primary[0])
			parts = primary[1:]
		}
	}

	job.Location = part(parts, 0)
	job.PostedAt = part(parts, 1)
	job.NumberOfApplicants = applicantsSuffix.ReplaceAllString(part(parts, 2), "")

	job.CompanyName = orUnavailable(job.CompanyName)
	job.URL = orUnavailable(job.URL)
	job.Title = orUnavailable(job.Title)
	job.Description = orUnavailable(job.Description)
	job.Location = orUnavailable(job.Location)
	job.PostedAt = orUnavailable(job.PostedAt)
	job.NumberOfApplicants = orUnavailable(job.NumberOfApplicants)

	return job, nil
}

func part(parts []string, i int) string {
	if i < len(parts) {
		return strings.TrimSpace(parts[i])
	}
	return ""
}

func resolveURL(base, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}
