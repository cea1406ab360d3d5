package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/company-scraper/internal/models"
)

var spaceRun = regexp.MustCompile(`[ \t\f\v\p{Zs}]+`)

// ParseLabelValueBlock walks the children of block in document order. A <dt>
// starts a new label; every other child is a value for the latest label.
// Values seen before any label are kept under "". Several values for one
// label are joined with "\n". Labels without values map to "".
func ParseLabelValueBlock(block *goquery.Selection) map[string]string {
	out := make(map[string]string)
	label := ""

	block.Children().Each(func(_ int, node *goquery.Selection) {
		text := CleanText(node.Text())

		if goquery.NodeName(node) == "dt" {
			label = text
			if _, ok := out[label]; !ok {
				out[label] = ""
			}
			return
		}

		if text == "" {
			return
		}
		if prev := out[label]; prev != "" {
			out[label] = prev + "\n" + text
			return
		}
		out[label] = text
	})

	return out
}

// ParseLabelValueHTML finds the first element matching selector in html and
// parses it with ParseLabelValueBlock. A missing block yields an empty map.
func ParseLabelValueHTML(html, selector string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return ParseLabelValueBlock(doc.Find(selector).First()), nil
}

// CleanText approximates innerText: it trims every line, collapses runs of
// blanks and drops empty lines.
func CleanText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func textOf(doc *goquery.Selection, selector string) string {
	return CleanText(doc.Find(selector).First().Text())
}

func orUnavailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return models.Unavailable
	}
	return s
}
