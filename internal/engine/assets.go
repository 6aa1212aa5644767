package engine

import (
	"regexp"
	"strings"
)

const assetsHeader = "---\n**Generated Assets:**"

var imageLinkRe = regexp.MustCompile(`!\[[^\]]*\]\([^)\s]+\)`)

// ExtractAssets returns the markdown image links found in text.
func ExtractAssets(text string) []string {
	return imageLinkRe.FindAllString(text, -1)
}

// AppendAssets adds the captured asset links to content under a separator.
// Links already present in content are not repeated.
func AppendAssets(content string, assets []string) string {
	var missing []string
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if seen[a] || strings.Contains(content, a) {
			continue
		}
		seen[a] = true
		missing = append(missing, a)
	}
	if len(missing) == 0 {
		return content
	}
	return content + "\n\n" + assetsHeader + "\n" + strings.Join(missing, "\n")
}
