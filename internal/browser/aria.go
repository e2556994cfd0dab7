package browser

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// AriaLabels walks rendered page HTML and collects aria-label attribute
// values in document order, up to limit. The valuation app renders through a
// canvas, so its accessibility tree is the only DOM surface that carries
// readable text.
func AriaLabels(r io.Reader, limit int) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var labels []string

	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if limit > 0 && len(labels) >= limit {
			return
		}
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "aria-label" && strings.TrimSpace(a.Val) != "" {
					labels = append(labels, a.Val)
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}

	visit(doc)
	return labels, nil
}
