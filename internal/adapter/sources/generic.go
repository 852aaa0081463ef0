package sources

import (
	"github.com/JakeFAU/jobs-ingest/internal/adapter/htmltext"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

var genericSplitter = htmltext.Splitter{
	Required: []string{
		"Minimum Qualifications", "Qualifications", "Requirements", "What you'll need",
		"What you need", "You have", "You are", "About you", "Who you are",
	},
	Preferred: []string{
		"Preferred Qualifications", "Nice to have", "Bonus", "Preferred", "You might also have",
	},
	End: []string{"Benefits", "Compensation", "Pay transparency", "Equal opportunity", "About us"},
}

// parseGeneric handles pages without a stable source-specific layout. The
// JSON-LD posting is preferred; otherwise the main content is split at its
// headings.
func parseGeneric(source ingest.Source, raw []byte) (ingest.ParsedContent, error) {
	if len(raw) == 0 {
		return ingest.ParsedContent{}, parseFailure(source, "no content to extract from")
	}
	content, err := parseJobPosting(source, raw, genericSplitter)
	if err == nil {
		return content, nil
	}
	doc, err := htmltext.Parse(raw)
	if err != nil {
		return ingest.ParsedContent{}, parseFailure(source, err.Error())
	}
	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	description, requirements := genericSplitter.Split(htmltext.BlocksOf(root))
	if requirements == "" {
		return ingest.ParsedContent{}, parseFailure(source, "no requirements section found")
	}
	return ingest.ParsedContent{Description: description, Requirements: requirements}, nil
}
