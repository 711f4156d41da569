package transform

import "regexp"

// extractAttr pulls the first occurrence of attr="value" out of an XML-ish
// content blob. Skype's RichText payloads are not well-formed XML, so this
// mirrors what the original pipeline does: attribute scraping rather than
// full parsing.
func extractAttr(content, attr string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(attr) + `="([^"]*)"`)
	m := re.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return m[1]
}

// extractAttrAll returns every occurrence of attr="value".
func extractAttrAll(content, attr string) []string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(attr) + `="([^"]*)"`)
	matches := re.FindAllStringSubmatch(content, -1)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m[1]
	}
	return out
}

// extractTagText returns the inner text of the first <tag>...</tag> match.
func extractTagText(content, tag string) string {
	re := regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(tag) + `[^>]*>(.*?)</` + regexp.QuoteMeta(tag) + `>`)
	m := re.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return m[1]
}
