// Package credits reads the user's remaining credit balance off the canvas
// page markup.
package credits

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var (
	badgePattern = regexp.MustCompile(`(?i)(\d+)\s*credits?`)
	barePattern  = regexp.MustCompile(`(?i)^(\d+)\s+credits?$`)
)

// Infer returns the credit count shown on the page, or nil when none is
// visible. The credit badge (a small medium-weight span mentioning
// "Credit") wins; otherwise the first element whose whole text reads
// "<n> Credit(s)" is used.
func Infer(r io.Reader) *int {
	doc, err := html.Parse(r)
	if err != nil {
		return nil
	}

	var badge, bare *int
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if badge != nil {
			return
		}
		if n.Type == html.ElementNode {
			text := strings.TrimSpace(textContent(n))
			if n.Data == "span" && hasClasses(n, "text-sm", "font-medium") && strings.Contains(text, "Credit") {
				if m := badgePattern.FindStringSubmatch(text); m != nil {
					badge = atoi(m[1])
					return
				}
			}
			if bare == nil {
				if m := barePattern.FindStringSubmatch(text); m != nil {
					bare = atoi(m[1])
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if badge != nil {
		return badge
	}
	return bare
}

// InferString is Infer over an HTML string.
func InferString(s string) *int {
	return Infer(strings.NewReader(s))
}

func atoi(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func hasClasses(n *html.Node, want ...string) bool {
	var class string
	for _, a := range n.Attr {
		if a.Key == "class" {
			class = a.Val
			break
		}
	}
	have := strings.Fields(class)
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}
