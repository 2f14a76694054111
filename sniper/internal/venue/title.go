package venue

import (
	"strings"

	"golang.org/x/net/html"
)

// pageTitle extracts the <title> text of an HTML document, used to label
// the login or error page the venue returns when the session expired.
func pageTitle(body []byte) string {
	z := html.NewTokenizer(strings.NewReader(string(body)))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}
