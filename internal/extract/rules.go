package extract

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SiteRule scopes selector-based extraction to one publisher.
type SiteRule struct {
	Name      string   `yaml:"name"`
	Hosts     []string `yaml:"hosts"`
	Selectors []string `yaml:"selectors"`
	Noise     []string `yaml:"noise"`
}

// Matches reports whether host belongs to the rule (exact or subdomain).
func (r SiteRule) Matches(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, h := range r.Hosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (r SiteRule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("site rule name is required")
	}
	if len(r.Hosts) == 0 {
		return fmt.Errorf("site rule %q: at least one host is required", r.Name)
	}
	if len(r.Selectors) == 0 {
		return fmt.Errorf("site rule %q: at least one selector is required", r.Name)
	}
	return nil
}

// VergeRule targets the article layouts used by The Verge.
var VergeRule = SiteRule{
	Name:  "theverge",
	Hosts: []string{"theverge.com"},
	Selectors: []string{
		".duet--article--article-body-component",
		".duet--article--lede-body",
		".c-entry-content",
		".l-col__main",
		".article-content",
		".entry-content",
		".c-entry-content .e-content",
		"#content .c-entry-content",
	},
	Noise: []string{
		"aside", ".c-related-list", ".c-share-social", "script", "style",
		".ad", ".advertisement", ".c-message-callout", ".c-newsletter-signup",
	},
}

// GenericRule applies to any page once site rules are exhausted.
var GenericRule = SiteRule{
	Name: "generic",
	Selectors: []string{
		"article",
		"main article",
		".article-content",
		".post-content",
		".entry-content",
		".content",
		".story-body",
		"#article-body",
		".article__content",
	},
	Noise: []string{
		"script", "style", "meta", "noscript", "iframe",
		".ads", ".related-articles", ".social-share", ".newsletter",
	},
}

// DefaultRules returns the built-in publisher rules.
func DefaultRules() []SiteRule {
	return []SiteRule{VergeRule}
}

type rulesFile struct {
	Sites []SiteRule `yaml:"sites"`
}

// LoadRules reads additional site rules from a YAML file of the form
//
//	sites:
//	  - name: example
//	    hosts: [example.com]
//	    selectors: [".story"]
//	    noise: [".promo"]
func LoadRules(path string) ([]SiteRule, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-provided config path.
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	for _, r := range f.Sites {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	return f.Sites, nil
}
