package services

import (
	"sort"
	"strings"
	"unicode"
)

// TopicClassifier infers the domain of a message from rule keywords.
// The domain with the most keyword hits wins; ties go to the name that
// sorts first.
type TopicClassifier struct {
	fallback string
	keywords map[string][]string
}

// NewTopicClassifier builds a classifier from the autonomy rules
func NewTopicClassifier(fallback string, rules []DomainRule) *TopicClassifier {
	c := &TopicClassifier{fallback: fallback, keywords: map[string][]string{}}
	for _, r := range rules {
		domain := strings.ToLower(strings.TrimSpace(r.Domain))
		if domain == "" {
			continue
		}
		words := []string{domain}
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				words = append(words, k)
			}
		}
		c.keywords[domain] = words
	}
	return c
}

// Classify returns the best matching domain for subject and content
func (c *TopicClassifier) Classify(subject, content string) string {
	tokens := tokenize(subject + " " + content)
	if len(tokens) == 0 {
		return c.fallback
	}

	domains := make([]string, 0, len(c.keywords))
	for d := range c.keywords {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	best, bestHits := c.fallback, 0
	for _, domain := range domains {
		hits := 0
		for _, k := range c.keywords[domain] {
			if strings.Contains(k, " ") {
				if strings.Contains(strings.Join(tokens, " "), k) {
					hits++
				}
				continue
			}
			for _, tok := range tokens {
				if tok == k {
					hits++
				}
			}
		}
		if hits > bestHits {
			best, bestHits = domain, hits
		}
	}
	return best
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
