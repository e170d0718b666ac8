package format_test

import (
	"testing"

	"github.com/MegaGrindStone/poolsight/internal/format"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "Empty",
			text: "",
			want: "",
		},
		{
			name: "Plain text",
			text: "Water looks clear",
			want: "<p>Water looks clear</p>\n",
		},
		{
			name: "Strong emphasis",
			text: "Chlorine looks low. **Action:** add 2 cups shock.",
			want: "<p>Chlorine looks low. <strong>Action:</strong> add 2 cups shock.</p>\n",
		},
		{
			name: "Emphasis",
			text: "This is *important* now",
			want: "<p>This is <em>important</em> now</p>\n",
		},
		{
			name: "Emphasis inside strong",
			text: "**very *very* bad**",
			want: "<p><strong>very <em>very</em> bad</strong></p>\n",
		},
		{
			name: "Paragraphs",
			text: "First block.\n\nSecond block.",
			want: "<p>First block.</p>\n<p>Second block.</p>\n",
		},
		{
			name: "List",
			text: "Steps:\n1. **Shock**: add it tonight\n2. **Wait**: 8 hours",
			want: "<p>Steps:</p>\n<ul>\n<li><strong>Shock</strong>: add it tonight</li>\n" +
				"<li><strong>Wait</strong>: 8 hours</li>\n</ul>\n",
		},
		{
			name: "List across blocks is one list",
			text: "1. **pH**: 7.8\n\n2. **Chlorine**: 0.5 ppm\n\nDone.",
			want: "<ul>\n<li><strong>pH</strong>: 7.8</li>\n<li><strong>Chlorine</strong>: 0.5 ppm</li>\n</ul>\n" +
				"<p>Done.</p>\n",
		},
		{
			name: "Numbered line without label is a paragraph",
			text: "1. just a line",
			want: "<p>1. just a line</p>\n",
		},
		{
			name: "Markup is escaped",
			text: `<script>alert("x")</script> & more`,
			want: "<p>&lt;script&gt;alert(&quot;x&quot;)&lt;/script&gt; &amp; more</p>\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := format.Format(tt.text); got != tt.want {
				t.Errorf("Format(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestFormatPlainTextIsSingleParagraph(t *testing.T) {
	texts := []string{"a", "Chlorine 1.5 ppm", "Skim the leaves first"}
	for _, text := range texts {
		want := "<p>" + text + "</p>\n"
		if got := format.Format(text); got != want {
			t.Errorf("Format(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestHTML(t *testing.T) {
	got := format.HTML("**Tip:** <b>brush</b>")
	want := "<p><strong>Tip:</strong> &lt;b&gt;brush&lt;/b&gt;</p>\n"
	if string(got) != want {
		t.Errorf("HTML() = %q, want %q", got, want)
	}
}
