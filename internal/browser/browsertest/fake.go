// Package browsertest provides an in-memory browser.Page backed by canned
// HTML documents.
package browsertest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/company-scraper/internal/browser"
)

var ErrSelectorTimeout = errors.New("timeout waiting for selector")

// Page serves Documents[url] on Goto. Redirects rewrite the URL reported
// after navigation, Statuses feed response listeners, and OnClick may swap
// the current document to emulate client-side navigation.
type Page struct {
	Documents  map[string]string
	Redirects  map[string]string
	Statuses   map[string]int
	GotoErrors map[string]error
	ContentErr error

	OnClick    func(p *Page, selector string) error
	OnEvaluate func(p *Page, expression string, arg ...any) (any, error)

	mu          sync.Mutex
	url         string
	html        string
	pendingURL  string
	pendingHTML *string
	visits      []string
	clicks      []string
	fills       map[string]string
	presses     []string
	moves       int
	cookies     []browser.Cookie
	listeners   []func(int, string)
	closed      bool
}

func NewPage() *Page {
	return &Page{
		Documents:  map[string]string{},
		Redirects:  map[string]string{},
		Statuses:   map[string]int{},
		GotoErrors: map[string]error{},
		fills:      map[string]string{},
	}
}

func (p *Page) Goto(url string) error {
	p.mu.Lock()
	p.visits = append(p.visits, url)
	if err, ok := p.GotoErrors[url]; ok {
		p.mu.Unlock()
		return err
	}

	final := url
	if r, ok := p.Redirects[url]; ok {
		final = r
	}
	p.url = final
	p.html = p.Documents[final]
	status, hasStatus := p.Statuses[url]
	listeners := append([]func(int, string){}, p.listeners...)
	p.mu.Unlock()

	if !hasStatus {
		status = 200
	}
	for _, fn := range listeners {
		fn(status, url)
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// WaitForSelector renders a pending document when the current one does not
// match, the way a real page finishes loading while it is being waited on.
func (p *Page) WaitForSelector(selector string, _ time.Duration) error {
	if p.Has(selector) {
		return nil
	}

	p.mu.Lock()
	pending := p.pendingHTML
	if pending != nil {
		if p.pendingURL != "" {
			p.url = p.pendingURL
		}
		p.html = *pending
		p.pendingURL, p.pendingHTML = "", nil
	}
	p.mu.Unlock()

	if pending != nil && p.Has(selector) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSelectorTimeout, selector)
}

// Has reports whether the current document matches selector.
func (p *Page) Has(selector string) bool {
	p.mu.Lock()
	html := p.html
	p.mu.Unlock()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}

func (p *Page) Content() (string, error) {
	if p.ContentErr != nil {
		return "", p.ContentErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) Click(selector string) error {
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	p.mu.Unlock()

	if p.OnClick != nil {
		return p.OnClick(p, selector)
	}
	if !p.Has(selector) {
		return fmt.Errorf("%w: %s", ErrSelectorTimeout, selector)
	}
	return nil
}

func (p *Page) Fill(selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills[selector] = value
	return nil
}

func (p *Page) Press(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presses = append(p.presses, key)
	return nil
}

func (p *Page) MoveMouse(_, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves++
	return nil
}

func (p *Page) Evaluate(expression string, arg ...any) (any, error) {
	if p.OnEvaluate != nil {
		return p.OnEvaluate(p, expression, arg...)
	}
	return nil, nil
}

func (p *Page) SetCookie(cookie browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookie)
	return nil
}

func (p *Page) OnResponse(fn func(status int, url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SetDocument replaces the current document without navigating.
func (p *Page) SetDocument(url, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if url != "" {
		p.url = url
	}
	p.html = html
}

// Pending queues a document that only replaces the current one once a
// WaitForSelector call cannot be satisfied by the current document.
func (p *Page) Pending(url, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingURL = url
	p.pendingHTML = &html
}

// Respond delivers a synthetic response to every listener.
func (p *Page) Respond(status int, url string) {
	p.mu.Lock()
	listeners := append([]func(int, string){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(status, url)
	}
}

func (p *Page) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.visits...)
}

func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.clicks...)
}

func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[selector]
}

func (p *Page) Presses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.presses...)
}

func (p *Page) MouseMoves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moves
}

func (p *Page) Cookies() []browser.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie{}, p.cookies...)
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Engine hands out a single Page.
type Engine struct {
	Page     browser.Page
	PageErr  error
	CloseErr error

	mu     sync.Mutex
	closed int
}

func (e *Engine) NewPage() (browser.Page, error) {
	if e.PageErr != nil {
		return nil, e.PageErr
	}
	return e.Page, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return e.CloseErr
}

func (e *Engine) CloseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
