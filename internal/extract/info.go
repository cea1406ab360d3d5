package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/company-scraper/internal/browser"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/ratelimit"
)

const (
	infoDetailsSelector = ".artdeco-card dl"
	infoNameSelector    = "h1.org-top-card-summary__title"

	peopleAnchorSelector = ".org-people-bar-graph-element"
	peopleGroupSelector  = ".insight-container"
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// InfoStrategy scrapes the "about" page of a company profile into a single
// CompanyInfo row.
type InfoStrategy struct {
	timing Timing
	logger *slog.Logger
}

func NewInfoStrategy(timing Timing, logger *slog.Logger) *InfoStrategy {
	return &InfoStrategy{
		timing: timing,
		logger: logger.With("component", "info_strategy"),
	}
}

func (s *InfoStrategy) Kind() models.TaskKind {
	return models.KindCompanyInfo
}

func (s *InfoStrategy) Columns() []string {
	return models.CompanyInfoColumns
}

func (s *InfoStrategy) Extract(ctx context.Context, page browser.Page, target string, opts Options) (res Result) {
	info := models.NewCompanyInfo(target, opts.IncludeLocations)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while extracting company info", "url", target, "panic", r)
			res = s.failed(target, opts, StatusFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := page.Goto(SubPage(target, "about")); err != nil {
		s.logger.Warn("navigation failed", "url", target, "error", err)
		return s.failed(target, opts, StatusFailed, err.Error())
	}
	settle(ctx, s.timing.Settle)

	if current := page.URL(); IsUnavailableURL(current) {
		s.logger.Info("company page unavailable", "url", target, "redirect", current)
		return s.failed(target, opts, StatusUnavailable, "page unavailable")
	}

	if err := page.WaitForSelector(infoDetailsSelector, s.timing.Anchor); err != nil {
		s.logger.Warn("missing elements", "url", target, "error", err)
		return s.failed(target, opts, StatusFailed, "missing elements")
	}

	html, err := page.Content()
	if err != nil {
		s.logger.Error("cannot get data from page", "url", target, "error", err)
		return s.failed(target, opts, StatusFailed, err.Error())
	}
	if err := PopulateCompanyInfo(&info, html); err != nil {
		s.logger.Error("cannot get data from page", "url", target, "error", err)
		return s.failed(target, opts, StatusFailed, err.Error())
	}

	if opts.IncludeLocations {
		people, err := s.peoplePerLocation(ctx, page, target)
		if err != nil {
			s.logger.Error("cannot get people per location", "url", target, "error", err)
			return s.failed(target, opts, StatusFailed, err.Error())
		}
		info.PeoplePerLocation = orUnavailable(people)
	}

	info.Status = string(StatusSuccess)
	s.logger.Debug("company info extracted", "url", target, "name", info.Name)

	_ = ratelimit.Sleep(ctx, opts.PageDelay)

	return Result{
		Target:  target,
		Status:  StatusSuccess,
		Rows:    [][]string{info.Row()},
		Records: 1,
	}
}

func (s *InfoStrategy) peoplePerLocation(ctx context.Context, page browser.Page, target string) (string, error) {
	if err := page.Goto(SubPage(target, "people")); err != nil {
		return "", fmt.Errorf("open people page: %w", err)
	}
	settle(ctx, s.timing.Settle)

	if err := page.WaitForSelector(peopleAnchorSelector, s.timing.Anchor); err != nil {
		return "", fmt.Errorf("people graph not found: %w", err)
	}

	html, err := page.Content()
	if err != nil {
		return "", err
	}
	return ParsePeoplePerLocation(html)
}

// failed builds a result whose single row keeps only the URL and status.
func (s *InfoStrategy) failed(target string, opts Options, status Status, reason string) Result {
	info := models.NewCompanyInfo(target, opts.IncludeLocations)
	info.Status = string(status)
	return Result{
		Target: target,
		Status: status,
		Reason: reason,
		Rows:   [][]string{info.Row()},
	}
}

// PopulateCompanyInfo fills info from the about page html. Fields the page
// does not provide keep their placeholder.
func PopulateCompanyInfo(info *models.CompanyInfo, html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse about page: %w", err)
	}

	values := ParseLabelValueBlock(doc.Find(infoDetailsSelector).First())

	info.Name = orUnavailable(textOf(doc.Selection, infoNameSelector))
	info.Industry = orUnavailable(values["Industry"])
	info.Location = orUnavailable(values["Headquarters"])
	info.Website = orUnavailable(values["Website"])
	info.Specialties = orUnavailable(values["Specialties"])

	size, employees := splitCompanySize(values["Company size"])
	info.Size = orUnavailable(size)
	info.Employees = orUnavailable(employees)

	return nil
}

// splitCompanySize turns "51-200 employees\n1,234 associated members" into
// the size band and the member count.
func splitCompanySize(value string) (size, employees string) {
	lines := strings.Split(value, "\n")
	size = strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		employees = nonDigits.ReplaceAllString(lines[1], "")
	}
	return size, employees
}

// ParsePeoplePerLocation reads the first bar graph of the people page and
// keeps only entries naming a known country, as "Country: count" lines.
func ParsePeoplePerLocation(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse people page: %w", err)
	}

	group := doc.Find(peopleGroupSelector).First()
	if group.Length() == 0 {
		group = doc.Selection
	}

	var lines []string
	group.Find(peopleAnchorSelector).Each(func(_ int, el *goquery.Selection) {
		label := CleanText(el.Find(".org-people-bar-graph-element__category").Text())
		count := nonDigits.ReplaceAllString(el.Find("strong").First().Text(), "")
		if count == "" || !IsCountry(label) {
			return
		}
		lines = append(lines, label+": "+count)
	})

	return strings.Join(lines, "\n"), nil
}
