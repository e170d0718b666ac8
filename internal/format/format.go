// Package format turns an assistant reply into display markup.
//
// Replies come from a remote service, so they are never injected as markup. Instead a small document
// tree is built from the handful of constructs replies use (paragraphs, strong and regular emphasis,
// labelled list items) and rendered by goldmark, which escapes all text.
package format

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
)

var (
	strongPattern   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	emphasisPattern = regexp.MustCompile(`\*(.+?)\*`)
	blockSeparator  = regexp.MustCompile(`\n[ \t]*\n`)
	listItemPattern = regexp.MustCompile(`^\d+\.\s*(\*\*.+?\*\*:.*)$`)
)

var htmlRenderer renderer.Renderer = goldmark.New().Renderer()

// Format renders text as HTML. It never fails: if the text can't be formatted, it is returned unchanged.
func Format(text string) string {
	out, err := render(text)
	if err != nil {
		return text
	}
	return out
}

// HTML is Format for templates. When formatting fails, the escaped text is returned so a reply is never
// rendered as raw markup.
func HTML(text string) template.HTML {
	out, err := render(text)
	if err != nil {
		return template.HTML(html.EscapeString(text))
	}
	// #nosec G203 -- out is produced by the renderer from escaped text nodes only.
	return template.HTML(out)
}

func render(text string) (out string, err error) {
	if text == "" {
		return "", nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("format panic: %v", r)
		}
	}()

	var buf bytes.Buffer
	if err := htmlRenderer.Render(&buf, nil, Document(text)); err != nil {
		return "", fmt.Errorf("failed to render: %w", err)
	}
	return buf.String(), nil
}

// Document builds the document tree for text. Blank lines separate blocks; inside a block, lines of the
// form "<n>. **label**: body" become list items and every other run of lines becomes a paragraph.
// Consecutive list items, including items in adjacent blocks, share one list.
func Document(text string) *ast.Document {
	doc := ast.NewDocument()

	var list *ast.List
	for _, block := range blockSeparator.Split(text, -1) {
		var para []string
		flush := func() {
			p := strings.TrimSpace(strings.Join(para, "\n"))
			para = nil
			if p == "" {
				return
			}
			node := ast.NewParagraph()
			appendInline(node, p)
			doc.AppendChild(doc, node)
			list = nil
		}

		for _, line := range strings.Split(block, "\n") {
			m := listItemPattern.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil {
				para = append(para, line)
				continue
			}
			flush()
			if list == nil {
				list = ast.NewList('-')
				list.IsTight = true
				doc.AppendChild(doc, list)
			}
			item := ast.NewListItem(0)
			body := ast.NewTextBlock()
			appendInline(body, m[1])
			item.AppendChild(item, body)
			list.AppendChild(list, item)
		}
		flush()
	}

	return doc
}

// appendInline adds text to parent, turning **pairs** into strong emphasis and *pairs* into emphasis.
func appendInline(parent ast.Node, text string) {
	last := 0
	for _, loc := range strongPattern.FindAllStringSubmatchIndex(text, -1) {
		appendEmphasis(parent, text[last:loc[0]])
		strong := ast.NewEmphasis(2)
		appendEmphasis(strong, text[loc[2]:loc[3]])
		parent.AppendChild(parent, strong)
		last = loc[1]
	}
	appendEmphasis(parent, text[last:])
}

func appendEmphasis(parent ast.Node, text string) {
	last := 0
	for _, loc := range emphasisPattern.FindAllStringSubmatchIndex(text, -1) {
		appendText(parent, text[last:loc[0]])
		em := ast.NewEmphasis(1)
		appendText(em, text[loc[2]:loc[3]])
		parent.AppendChild(parent, em)
		last = loc[1]
	}
	appendText(parent, text[last:])
}

func appendText(parent ast.Node, text string) {
	if text == "" {
		return
	}
	s := ast.NewString([]byte(text))
	// Raw strings are escaped verbatim, without resolving entities or backslash escapes.
	s.SetRaw(true)
	parent.AppendChild(parent, s)
}
