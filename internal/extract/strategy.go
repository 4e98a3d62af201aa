package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const textSelector = "p, h2, h3, h4, blockquote, ul li, ol li"

// Input is what a Strategy sees for one page.
type Input struct {
	Doc  *goquery.Document
	URL  *url.URL
	HTML []byte
}

// Strategy tries to pull article text from a page. It returns "" for no match.
// Strategies may mutate Input.Doc; later strategies observe the mutation.
type Strategy interface {
	Name() string
	Extract(in Input) string
}

type selectorStrategy struct {
	rule    SiteRule
	anyHost bool
}

// NewSiteStrategy returns a strategy that only runs for pages on the rule's hosts.
func NewSiteStrategy(rule SiteRule) Strategy {
	return &selectorStrategy{rule: rule}
}

// NewGenericStrategy returns a strategy that runs for every page.
func NewGenericStrategy(rule SiteRule) Strategy {
	return &selectorStrategy{rule: rule, anyHost: true}
}

func (s *selectorStrategy) Name() string {
	return s.rule.Name
}

func (s *selectorStrategy) Extract(in Input) string {
	if !s.anyHost && (in.URL == nil || !s.rule.Matches(in.URL.Hostname())) {
		return ""
	}
	noise := strings.Join(s.rule.Noise, ", ")
	for _, sel := range s.rule.Selectors {
		matched := in.Doc.Find(sel)
		if matched.Length() == 0 {
			continue
		}
		if noise != "" {
			matched.Find(noise).Remove()
		}
		if text := collectText(matched.Find(textSelector), 0); text != "" {
			return text
		}
	}
	return ""
}

type readabilityStrategy struct{}

// NewReadabilityStrategy scores the page with go-readability.
func NewReadabilityStrategy() Strategy {
	return readabilityStrategy{}
}

func (readabilityStrategy) Name() string {
	return "readability"
}

func (readabilityStrategy) Extract(in Input) string {
	if len(in.HTML) == 0 || in.URL == nil {
		return ""
	}
	parsed, err := readability.FromReader(bytes.NewReader(in.HTML), in.URL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.TextContent)
}

const (
	fallbackNoise        = "header, footer, nav, aside, .sidebar, .ads, .comments, .related, script, style"
	fallbackMinParagraph = 50
)

// fallback strips page chrome and keeps substantial paragraphs, or the whole
// body text when none qualify.
func fallback(doc *goquery.Document) string {
	doc.Find(fallbackNoise).Remove()
	bodyText := doc.Find("body").Text()
	if text := collectText(doc.Find("p"), fallbackMinParagraph); text != "" {
		return text
	}
	return bodyText
}

func collectText(sel *goquery.Selection, minLen int) string {
	var parts []string
	sel.Each(func(_ int, el *goquery.Selection) {
		text := strings.TrimSpace(el.Text())
		if text == "" || (minLen > 0 && runeLen(text) <= minLen) {
			return
		}
		parts = append(parts, text)
	})
	return strings.Join(parts, "\n\n")
}

func parseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}

func describeStrategies(strategies []Strategy) string {
	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name())
	}
	return fmt.Sprintf("[%s]", strings.Join(names, " "))
}
