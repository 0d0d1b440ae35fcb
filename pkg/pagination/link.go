package pagination

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	leadingPageParam  = regexp.MustCompile(`(?i)\?page=\d+`)
	trailingPageParam = regexp.MustCompile(`(?i)&page=\d+`)
)

// BuildLink returns link pointing at page n.
//
//   - no "?": append "?page=n"
//   - contains "?page=": rewrite every "?page=<digits>"
//   - contains "&page=": rewrite every "&page=<digits>"
//   - otherwise: append "&page=n"
//
// Calling it with the page already in link returns link unchanged.
func BuildLink(link string, n int) string {
	page := strconv.Itoa(n)

	if !strings.Contains(link, "?") {
		return link + "?page=" + page
	}
	if strings.Contains(link, "?page=") {
		return leadingPageParam.ReplaceAllString(link, "?page="+page)
	}
	if strings.Contains(link, "&page=") {
		return trailingPageParam.ReplaceAllString(link, "&page="+page)
	}
	return link + "&page=" + page
}

// PageFromLink returns the page parameter of link, if it has a numeric one.
func PageFromLink(link string) (int, bool) {
	i := strings.Index(link, "?")
	if i < 0 {
		return 0, false
	}

	values, err := url.ParseQuery(link[i+1:])
	if err != nil {
		return 0, false
	}

	for name, v := range values {
		if !strings.EqualFold(name, "page") || len(v) == 0 {
			continue
		}
		n, err := strconv.Atoi(v[0])
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
