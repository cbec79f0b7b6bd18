package htmltag

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

var ErrNoImageTag = errors.New("no img tag with src found")

type Attr struct {
	Key string
	Val string
}

// ImgTag is the first <img> found in an HTML fragment. Attrs preserves the
// source attribute order so the rebuilt tag reads like the input.
type ImgTag struct {
	Src   string
	Attrs []Attr
}

// ParseImgTag extracts the first <img> element carrying a src attribute from
// an HTML fragment.
func ParseImgTag(fragment string) (*ImgTag, error) {
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return nil, ErrNoImageTag
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "img" {
				continue
			}
			tag := &ImgTag{}
			for _, a := range token.Attr {
				tag.Attrs = append(tag.Attrs, Attr{Key: a.Key, Val: a.Val})
				if a.Key == "src" {
					tag.Src = a.Val
				}
			}
			if tag.Src == "" {
				continue
			}
			return tag, nil
		}
	}
}

// BuildPictureTag renders a <picture> element with modern-format sources and
// an <img> fallback carrying the original attributes (src replaced).
func BuildPictureTag(avifURL, webpURL, fallbackURL string, attrs []Attr) string {
	var b strings.Builder
	b.WriteString("<picture>\n")
	if avifURL != "" {
		fmt.Fprintf(&b, "<source srcset=\"%s\" type=\"image/avif\">\n", html.EscapeString(avifURL))
	}
	if webpURL != "" {
		fmt.Fprintf(&b, "<source srcset=\"%s\" type=\"image/webp\">\n", html.EscapeString(webpURL))
	}

	fmt.Fprintf(&b, "<img src=\"%s\"", html.EscapeString(fallbackURL))
	for _, a := range attrs {
		if a.Key == "src" {
			continue
		}
		fmt.Fprintf(&b, " %s=\"%s\"", a.Key, html.EscapeString(a.Val))
	}
	b.WriteString(">\n</picture>")
	return b.String()
}
