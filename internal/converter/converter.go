package converter

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// contentSelector matches the article body container in the platform's
// rendered pages.
const contentSelector = ".rich_media_content"

// Document is the portable form of one article: the extracted body HTML, its
// markdown rendering and the embedded media references.
type Document struct {
	HTML     string
	Markdown string
	Images   []string
	Videos   []string
}

// Converter parses raw article markup into a Document. It is stateless and
// safe for sequential reuse.
type Converter struct {
	md *md.Converter
}

// New creates a Converter with the platform-specific image rule: images are
// lazy-loaded, so data-src takes precedence over src.
func New() *Converter {
	conv := md.NewConverter("", true, nil)

	conv.AddRules(md.Rule{
		Filter: []string{"img"},
		Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
			src := selec.AttrOr("data-src", "")
			if src == "" {
				src = selec.AttrOr("src", "")
			}
			alt := selec.AttrOr("alt", "")
			title := selec.AttrOr("title", "")

			var titlePart string
			if title != "" {
				titlePart = fmt.Sprintf(" %q", title)
			}
			return md.String(fmt.Sprintf("\n![%s](%s%s)\n", alt, src, titlePart))
		},
	})

	return &Converter{md: conv}
}

// Convert parses raw article markup, extracts media references and renders the
// body as markdown. A page without the body container yields an empty
// Document. When markdown rendering fails the raw body HTML is used instead so
// the article is never lost.
func (c *Converter) Convert(html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse article markup: %w", err)
	}

	content := doc.Find(contentSelector).First()
	if content.Length() == 0 {
		return &Document{}, nil
	}

	bodyHTML, err := content.Html()
	if err != nil {
		return nil, fmt.Errorf("extract article body: %w", err)
	}

	result := &Document{HTML: bodyHTML}

	content.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src := sel.AttrOr("data-src", "")
		if src == "" {
			src = sel.AttrOr("src", "")
		}
		if src != "" {
			result.Images = appendUnique(result.Images, src)
		}
	})

	content.Find("iframe, video").Each(func(_ int, sel *goquery.Selection) {
		src := sel.AttrOr("src", "")
		if src == "" {
			src = sel.AttrOr("data-src", "")
		}
		if src != "" {
			result.Videos = appendUnique(result.Videos, src)
		}
	})

	markdown, err := c.md.ConvertString(bodyHTML)
	if err != nil {
		// Keep the raw markup rather than dropping the item.
		result.Markdown = bodyHTML
		return result, nil
	}
	result.Markdown = markdown

	return result, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
