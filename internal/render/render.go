// Package render turns chat message text into safe HTML.
package render

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
	policy       *bluemonday.Policy
)

func setup() {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithASTTransformers(util.Prioritized(linkTarget{}, 100)),
			),
			goldmark.WithRendererOptions(
				gmhtml.WithHardWraps(),
				renderer.WithNodeRenderers(util.Prioritized(&codeRenderer{}, 100)),
			),
		)

		policy = bluemonday.UGCPolicy()
		policy.AllowAttrs("class").
			Matching(regexp.MustCompile(`^(inline-code|code-block)$`)).
			OnElements("code")
		policy.AllowAttrs("target").
			Matching(regexp.MustCompile(`^_blank$`)).
			OnElements("a")
		policy.RequireNoFollowOnLinks(true)
		policy.RequireNoReferrerOnLinks(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
	})
}

// Agent renders an agent reply as sanitized markdown. Literal "\n"
// sequences in the text are treated as line breaks.
func Agent(text string) string {
	setup()
	text = strings.ReplaceAll(text, `\n`, "\n")

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return User(text)
	}
	return policy.Sanitize(buf.String())
}

// User renders the user's own text verbatim.
func User(text string) string {
	return `<pre class="user-text">` + html.EscapeString(text) + `</pre>`
}

// Message renders m according to who wrote it.
func Message(m models.Message) string {
	if m.User == models.RoleUser {
		return User(m.Text)
	}
	return Agent(m.Text)
}

// Messages fills the HTML field of each message in place.
func Messages(msgs []models.Message) []models.Message {
	for i := range msgs {
		if msgs[i].IsPending() {
			continue
		}
		msgs[i].HTML = Message(msgs[i])
	}
	return msgs
}

// linkTarget opens every link in a new tab, relative ones included. The
// sanitizer adds rel="noopener" to links that carry the target.
type linkTarget struct{}

var targetBlank = []byte("_blank")

func (linkTarget) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindLink, ast.KindAutoLink:
			n.SetAttributeString("target", targetBlank)
		}
		return ast.WalkContinue, nil
	})
}

// codeRenderer tags inline and block code with their display classes.
type codeRenderer struct{}

func (r *codeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindCodeSpan, r.renderCodeSpan)
	reg.Register(ast.KindFencedCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindCodeBlock, r.renderCodeBlock)
}

func (r *codeRenderer) renderCodeSpan(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString("</code>")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<code class="inline-code">`)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			value := t.Segment.Value(source)
			if bytes.HasSuffix(value, []byte("\n")) {
				value = append(value[:len(value)-1:len(value)-1], ' ')
			}
			_, _ = w.Write(util.EscapeHTML(value))
		case *ast.String:
			_, _ = w.Write(util.EscapeHTML(t.Value))
		}
	}
	return ast.WalkSkipChildren, nil
}

func (r *codeRenderer) renderCodeBlock(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString("</code></pre>\n")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<pre><code class="code-block">`)
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		_, _ = w.Write(util.EscapeHTML(line.Value(source)))
	}
	return ast.WalkContinue, nil
}
