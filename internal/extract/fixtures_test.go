package extract

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/maltedev/company-scraper/internal/ratelimit"
)

const companyURL = "https://www.linkedin.com/company/acme"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTiming() Timing {
	return Timing{Human: ratelimit.Fixed(0)}
}

const aboutHTML = `<html><body>
<h1 class="org-top-card-summary__title"> Acme Corp </h1>
<section class="artdeco-card">
  <dl>
    <dt>Website</dt>
    <dd><a href="https://acme.test">https://acme.test</a></dd>
    <dt>Industry</dt>
    <dd>Software Development</dd>
    <dt>Company size</dt>
    <dd>51-200 employees</dd>
    <dd>1,234 associated members</dd>
    <dt>Headquarters</dt>
    <dd>Berlin, Germany</dd>
  </dl>
</section>
</body></html>`

const peopleHTML = `<html><body>
<div class="insight-container">
  <div class="org-people-bar-graph-element"><strong>1,200</strong><span class="org-people-bar-graph-element__category">Germany</span></div>
  <div class="org-people-bar-graph-element"><strong>300</strong><span class="org-people-bar-graph-element__category">United States</span></div>
  <div class="org-people-bar-graph-element"><strong>40</strong><span class="org-people-bar-graph-element__category">Berlin Area</span></div>
</div>
<div class="insight-container">
  <div class="org-people-bar-graph-element"><strong>900</strong><span class="org-people-bar-graph-element__category">France</span></div>
</div>
</body></html>`

const jobsLandingHTML = `<html><body>
<div class="org-jobs-job-search-form-module__action-container"><a href="/jobs/search/?f_C=1">See all jobs</a></div>
</body></html>`

type fixtureJob struct {
	id        string
	title     string
	company   string
	location  string
	posted    string
	applicant string
}

// searchPage renders a job search result page. detail is the 1-based index
// of the listing whose panel is open, 0 for none.
func searchPage(jobs []fixtureJob, pages []string, detail int) string {
	return searchPageAt(jobs, pages, "", detail)
}

// searchPageAt is searchPage with the pagination item active marked as the
// selected page.
func searchPageAt(jobs []fixtureJob, pages []string, active string, detail int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="job-view-layout">`)
	b.WriteString(`<header class="scaffold-layout__list-header">Acme jobs</header>`)
	b.WriteString(`<ul class="scaffold-layout__list-container">`)
	for _, job := range jobs {
		fmt.Fprintf(&b, `<li><a href="/jobs/view/%s/">%s</a></li>`, job.id, job.title)
	}
	b.WriteString(`</ul>`)

	if detail > 0 {
		job := jobs[detail-1]
		fmt.Fprintf(&b, `<h2 class="job-details-jobs-unified-top-card__job-title">%s</h2>`, job.title)
		fmt.Fprintf(&b, `<div class="job-details-jobs-unified-top-card__primary-description-without-tagline">%s · %s · %s · %s</div>`,
			job.company, job.location, job.posted, job.applicant)
		fmt.Fprintf(&b, `<div class="jobs-description-content__text">Build "things" for %s</div>`, job.company)
	}

	b.WriteString(`<ul class="artdeco-pagination__pages">`)
	for _, p := range pages {
		if p == "…" {
			b.WriteString(`<li><button>…</button></li>`)
			continue
		}
		if p == active {
			fmt.Fprintf(&b, `<li data-test-pagination-page-btn="%s" class="active selected"><button aria-current="true">%s</button></li>`, p, p)
			continue
		}
		fmt.Fprintf(&b, `<li data-test-pagination-page-btn="%s"><button>%s</button></li>`, p, p)
	}
	b.WriteString(`</ul></div></body></html>`)

	return b.String()
}
