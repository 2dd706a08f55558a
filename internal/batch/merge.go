package batch

import (
	"fmt"
	"sort"
	"strings"
)

var sectionSeparator = strings.Repeat("=", 80)

// Merge concatenates completed results ordered by section number. It is a
// pure function of the result set: input order and failed results do not
// affect the output.
func Merge(runID, title string, results []Result) Document {
	ordered := orderCompleted(results)
	doc := Document{RunID: runID, Title: title}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n## Contents\n\n", title)
	for _, r := range ordered {
		fmt.Fprintf(&b, "%d. %s\n", r.SectionNumber, r.Title)
		doc.Sections = append(doc.Sections, SectionRef{Number: r.SectionNumber, ItemID: r.ItemID, Title: r.Title})
	}
	for _, r := range ordered {
		fmt.Fprintf(&b, "\n%s\n\n", sectionSeparator)
		b.WriteString(SectionText(r))
	}
	doc.Content = b.String()
	return doc
}

// SectionText is the stored form of one section.
func SectionText(r Result) string {
	return fmt.Sprintf("# %s\n\n%s\n", r.Title, strings.TrimSpace(r.Content))
}

// orderCompleted keeps one completed result per item, sorted by section number.
func orderCompleted(results []Result) []Result {
	var completed []Result
	for _, r := range results {
		if r.Completed() {
			completed = append(completed, r)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		a, b := completed[i], completed[j]
		if a.SectionNumber != b.SectionNumber {
			return a.SectionNumber < b.SectionNumber
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if !a.GeneratedAt.Equal(b.GeneratedAt) {
			return a.GeneratedAt.Before(b.GeneratedAt)
		}
		return a.Content < b.Content
	})
	seen := make(map[string]bool, len(completed))
	out := completed[:0]
	for _, r := range completed {
		if seen[r.ItemID] {
			continue
		}
		seen[r.ItemID] = true
		out = append(out, r)
	}
	return out
}
