package chatpage

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// widgetRenderer renders fenced code the way the hosted chat does: a
// wrapper holding a language header and the highlighted block.
type widgetRenderer struct{}

func (r *widgetRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFenced)
	reg.Register(ast.KindCodeBlock, r.renderFenced)
}

func (r *widgetRenderer) renderFenced(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	var lang []byte
	if fenced, ok := node.(*ast.FencedCodeBlock); ok {
		lang = fenced.Language(source)
	}
	if len(lang) == 0 {
		lang = []byte("text")
	}

	if !entering {
		_, _ = w.WriteString("</code></pre></div></div>\n")
		return ast.WalkContinue, nil
	}

	_, _ = w.WriteString(`<div class="code-widget"><div class="code-header" data-language-id="`)
	_, _ = w.Write(util.EscapeHTML(lang))
	_, _ = w.WriteString(`">`)
	_, _ = w.Write(util.EscapeHTML(lang))
	_, _ = w.WriteString(`</div><div class="shiki"><pre><code class="language-`)
	_, _ = w.Write(util.EscapeHTML(lang))
	_, _ = w.WriteString(`">`)

	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		_, _ = w.Write(util.EscapeHTML(line.Value(source)))
	}
	return ast.WalkContinue, nil
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(util.Prioritized(&widgetRenderer{}, 100)),
		),
	)
}

func renderMarkdown(md goldmark.Markdown, text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
