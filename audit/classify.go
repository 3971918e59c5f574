package audit

import (
	"strings"

	"github.com/teranos/linkaudit/tracker"
)

// parentLinkPatterns mark a relation as an upward link to a containing item.
// Matched case-insensitively as substrings of the relation label.
var parentLinkPatterns = []string{"hierarchy-reverse", "parent"}

// NoTitle replaces an absent title in results
const NoTitle = "(no title)"

// URLBuilder synthesizes a browser URL for items the tracker sent without one
type URLBuilder interface {
	WorkItemURL(id int) string
}

// Result is the classification of one work item
type Result struct {
	ItemID     int    `json:"id"`
	Title      string `json:"title"`
	State      string `json:"state"`
	WebURL     string `json:"url"`
	IsViolator bool   `json:"is_violator"`
}

// IsViolator reports whether item lacks a parent link. A nil item or one
// without relations is a violator: missing data counts as a missing link.
func IsViolator(item *tracker.WorkItem) bool {
	if item == nil || len(item.Relations) == 0 {
		return true
	}
	return !HasParentLink(item.Relations)
}

// HasParentLink reports whether any relation label matches a parent pattern
func HasParentLink(relations []tracker.Relation) bool {
	for _, rel := range relations {
		label := strings.ToLower(rel.Rel)
		for _, pattern := range parentLinkPatterns {
			if strings.Contains(label, pattern) {
				return true
			}
		}
	}
	return false
}

// Classify turns a work item into a Result with display defaults applied
func Classify(item *tracker.WorkItem, urls URLBuilder) Result {
	if item == nil {
		return Result{Title: NoTitle, IsViolator: true}
	}

	res := Result{
		ItemID:     item.ID,
		Title:      item.Title,
		State:      item.State,
		WebURL:     item.WebURL,
		IsViolator: IsViolator(item),
	}
	if strings.TrimSpace(res.Title) == "" {
		res.Title = NoTitle
	}
	if res.WebURL == "" && urls != nil {
		res.WebURL = urls.WorkItemURL(item.ID)
	}
	return res
}

// ClassifyAll classifies records in order
func ClassifyAll(records []tracker.WorkItem, urls URLBuilder) []Result {
	results := make([]Result, len(records))
	for i := range records {
		results[i] = Classify(&records[i], urls)
	}
	return results
}
