// Package extract turns article HTML into cleaned body text using an ordered
// chain of strategies: publisher rules, generic selectors, optional
// readability scoring, and a whole-page fallback.
package extract

import (
	"bytes"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// MinContentLength is the length below which the whole-page fallback replaces
// the strategy chain's result.
const MinContentLength = 200

// Config controls Engine construction.
type Config struct {
	// Rules are publisher rules tried before the generic selectors.
	Rules []SiteRule
	// Readability inserts a go-readability pass after the generic selectors.
	// A long enough readability result then bypasses the whole-page fallback,
	// so it is off unless configured.
	Readability bool
}

// Engine runs the strategy chain.
type Engine struct {
	strategies []Strategy
	logger     *zap.Logger
}

// New builds an Engine from cfg. A nil Rules slice uses DefaultRules.
func New(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	strategies := make([]Strategy, 0, len(rules)+2)
	for _, r := range rules {
		strategies = append(strategies, NewSiteStrategy(r))
	}
	strategies = append(strategies, NewGenericStrategy(GenericRule))
	if cfg.Readability {
		strategies = append(strategies, NewReadabilityStrategy())
	}
	logger.Debug("extraction chain configured", zap.String("strategies", describeStrategies(strategies)))
	return NewWithStrategies(logger, strategies...)
}

// NewWithStrategies builds an Engine from an explicit chain.
func NewWithStrategies(logger *zap.Logger, strategies ...Strategy) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{strategies: strategies, logger: logger}
}

// Extract returns cleaned body text for html fetched from sourceURL. It never
// returns an empty string; unrecoverable pages yield SentinelUnrecoverable.
func (e *Engine) Extract(html []byte, sourceURL string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		e.logger.Warn("parse html failed", zap.String("url", sourceURL), zap.Error(err))
		return SentinelUnrecoverable
	}
	in := Input{Doc: doc, URL: parseURL(sourceURL), HTML: html}

	content, used := e.runChain(in)
	if runeLen(content) < MinContentLength {
		content = fallback(doc)
		used = "fallback"
	}
	content = Clean(content)
	if content == "" {
		e.logger.Debug("no content extracted", zap.String("url", sourceURL))
		return SentinelUnrecoverable
	}
	e.logger.Debug("content extracted",
		zap.String("url", sourceURL),
		zap.String("strategy", used),
		zap.Int("length", runeLen(content)),
	)
	return content
}

func (e *Engine) runChain(in Input) (string, string) {
	for _, s := range e.strategies {
		if text := s.Extract(in); text != "" {
			return text, s.Name()
		}
	}
	return "", ""
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
