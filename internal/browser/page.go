package browser

import (
	"math/rand"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Page is the subset of a browser tab the scraper drives. It exists so the
// extractors can be exercised against canned HTML without a browser.
type Page interface {
	Goto(url string) error
	URL() string
	WaitForSelector(selector string, timeout time.Duration) error
	Content() (string, error)
	Click(selector string) error
	Fill(selector, value string) error
	Press(key string) error
	MoveMouse(x, y float64) error
	Evaluate(expression string, arg ...any) (any, error)
	SetCookie(cookie Cookie) error
	OnResponse(fn func(status int, url string))
	Close() error
}

type Cookie struct {
	Name  string
	Value string
	URL   string
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Click(selector string) error {
	return p.page.Locator(selector).First().Click()
}

func (p *playwrightPage) Fill(selector, value string) error {
	return p.page.Locator(selector).First().Fill(value)
}

func (p *playwrightPage) Press(key string) error {
	return p.page.Keyboard().Press(key)
}

func (p *playwrightPage) MoveMouse(x, y float64) error {
	return p.page.Mouse().Move(x, y)
}

func (p *playwrightPage) Evaluate(expression string, arg ...any) (any, error) {
	return p.page.Evaluate(expression, arg...)
}

func (p *playwrightPage) SetCookie(cookie Cookie) error {
	return p.page.Context().AddCookies([]playwright.OptionalCookie{
		{
			Name:  cookie.Name,
			Value: cookie.Value,
			URL:   playwright.String(cookie.URL),
		},
	})
}

func (p *playwrightPage) OnResponse(fn func(status int, url string)) {
	p.page.OnResponse(func(r playwright.Response) {
		fn(r.Status(), r.URL())
	})
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

// HumanizeInteraction moves the pointer to a random spot inside the viewport.
func HumanizeInteraction(page Page, rnd *rand.Rand, width, height int) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	x := float64(rnd.Intn(width))
	y := float64(rnd.Intn(height))
	return page.MoveMouse(x, y)
}
