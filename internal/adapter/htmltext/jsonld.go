package htmltext

import (
	"encoding/json"
	stdhtml "html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// JobPostingDescription returns the description HTML of the first JSON-LD
// JobPosting embedded in doc. Objects without a JobPosting type are used
// only when no typed posting carries a description.
func JobPostingDescription(doc *goquery.Document) (string, bool) {
	var typed, untyped string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &payload); err != nil {
			return true
		}
		t, u := findDescription(payload)
		if untyped == "" {
			untyped = u
		}
		if t != "" {
			typed = t
			return false
		}
		return true
	})
	desc := typed
	if desc == "" {
		desc = untyped
	}
	if desc == "" {
		return "", false
	}
	// Some boards double-encode the markup.
	if strings.Contains(desc, "&lt;") {
		desc = stdhtml.UnescapeString(desc)
	}
	return desc, true
}

func findDescription(v any) (typed string, untyped string) {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			t, u := findDescription(item)
			if t != "" {
				return t, u
			}
			if untyped == "" {
				untyped = u
			}
		}
	case map[string]any:
		if desc, ok := node["description"].(string); ok && desc != "" {
			if isJobPosting(node["@type"]) {
				return desc, desc
			}
			untyped = desc
		}
		if graph, ok := node["@graph"]; ok {
			t, u := findDescription(graph)
			if t != "" {
				return t, u
			}
			if untyped == "" {
				untyped = u
			}
		}
	}
	return "", untyped
}

func isJobPosting(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "JobPosting"
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == "JobPosting" {
				return true
			}
		}
	}
	return false
}
