package graph

import "testing"

func TestHTMLToText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "mention tag",
			in:   `<div>please push <at id="0">Push Bot</at> job-42</div>`,
			want: "please push Push Bot job-42",
		},
		{
			name: "nested blocks",
			in:   "<div><p>first line</p><p>second line</p></div>",
			want: "first line second line",
		},
		{
			name: "line breaks",
			in:   "one<br>two<br/>three",
			want: "one two three",
		},
		{
			name: "entities",
			in:   "<div>fish &amp; chips</div>",
			want: "fish & chips",
		},
		{
			name: "plain text passes through",
			in:   "no markup here",
			want: "no markup here",
		},
		{
			name: "whitespace collapsed",
			in:   "<div>  spaced \n\n out  </div>",
			want: "spaced out",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := htmlToText(c.in); got != c.want {
				t.Errorf("htmlToText(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
