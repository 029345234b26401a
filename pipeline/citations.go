package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
)

// citationMarker matches inline citations such as [A][2].
var citationMarker = regexp.MustCompile(`\[([A-Z])\]\[(\d+)\]`)

// citationLetter returns the letter for the i-th contributing node.
func citationLetter(i int) string {
	return string(rune('A' + i))
}

// auditCitations checks every marker in answer against the letter map and
// the document counts behind it. The answer is never modified.
func auditCitations(stage, answer string, citations []CitationSource) []CitationIssue {
	if len(citations) == 0 {
		return nil
	}
	byLetter := make(map[string]CitationSource, len(citations))
	for _, c := range citations {
		byLetter[c.Letter] = c
	}

	var issues []CitationIssue
	seen := make(map[string]bool)
	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		marker := m[0]
		if seen[marker] {
			continue
		}
		seen[marker] = true

		src, ok := byLetter[m[1]]
		if !ok {
			issues = append(issues, CitationIssue{Stage: stage, Marker: marker, Reason: fmt.Sprintf("no source is labelled %s", m[1])})
			continue
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil || idx < 1 || idx > src.Documents {
			issues = append(issues, CitationIssue{
				Stage:  stage,
				Marker: marker,
				Reason: fmt.Sprintf("source %s (%s) has %d documents", src.Letter, src.Source, src.Documents),
			})
		}
	}
	return issues
}
