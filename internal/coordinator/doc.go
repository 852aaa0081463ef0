// Package coordinator drives runs through their lifecycle: it discovers
// postings across every enabled source, reconciles them against what the
// owner already has, fans crawl instructions out per source, and finalizes
// the run once the last posting settles.
package coordinator
