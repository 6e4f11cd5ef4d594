// Package parser implements the Parse Worker's link-extraction step:
// HTML anchor/form/img-in-anchor discovery and an OCR path for image/PDF
// bodies, built on a golang.org/x/net/html traversal narrowed to link
// discovery: no heading/meta/Open Graph/hreflang extraction, just the
// anchors, forms, and images a parse worker needs to grow the frontier.
package parser

import (
	"bytes"
	"net/url"
	"regexp"

	"golang.org/x/net/html"
)

// DiscoveredLink is one outbound reference found in a parsed body.
type DiscoveredLink struct {
	URL  string
	Type string // "link", "form", "image_link", or "ocr_extracted"
}

// ExtractHTMLLinks walks htmlContent looking for anchor hrefs, form
// actions, and the href of an anchor that directly wraps an img,
// resolving each against baseURL.
func ExtractHTMLLinks(htmlContent []byte, baseURL string) ([]DiscoveredLink, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	var links []DiscoveredLink
	var walk func(n *html.Node, inAnchorHref string)
	walk = func(n *html.Node, inAnchorHref string) {
		childAnchorHref := ""
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				if href := attr(n, "href"); href != "" {
					if resolved := resolve(base, href); resolved != "" {
						links = append(links, DiscoveredLink{URL: resolved, Type: "link"})
					}
					childAnchorHref = href
				}
			case "form":
				if action := attr(n, "action"); action != "" {
					if resolved := resolve(base, action); resolved != "" {
						links = append(links, DiscoveredLink{URL: resolved, Type: "form"})
					}
				}
			case "img":
				if inAnchorHref != "" {
					if resolved := resolve(base, inAnchorHref); resolved != "" {
						links = append(links, DiscoveredLink{URL: resolved, Type: "image_link"})
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, childAnchorHref)
		}
	}
	walk(doc, "")

	return links, nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(refURL).String()
}

// absoluteURLPattern matches an absolute http(s) URL, used by the OCR
// path to pull links out of recognized text rather than a DOM.
var absoluteURLPattern = regexp.MustCompile(`https?://(?:[a-zA-Z0-9$\-_@.&+!*'(),%]|[!*\(\),])+`)

// ExtractURLsFromText scans arbitrary text (OCR output) for absolute
// http(s) URLs, the same substring approach the upstream OCR path used.
func ExtractURLsFromText(text string) []DiscoveredLink {
	matches := absoluteURLPattern.FindAllString(text, -1)
	links := make([]DiscoveredLink, 0, len(matches))
	for _, m := range matches {
		links = append(links, DiscoveredLink{URL: m, Type: "ocr_extracted"})
	}
	return links
}
