package pipeline

import (
	"testing"
	"unicode/utf8"
)

func TestDecodeOutput(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr bool
	}{
		{name: "plain json", reply: `{"name": "go"}`, want: "go"},
		{name: "fenced json", reply: "```json\n{\"name\": \"go\"}\n```", want: "go"},
		{name: "bare fence", reply: "```\n{\"name\": \"go\"}\n```", want: "go"},
		{name: "prose around object", reply: `Here is the result: {"name": "go"} hope it helps`, want: "go"},
		{name: "empty reply", reply: "  ", wantErr: true},
		{name: "no object", reply: "sorry, I cannot do that", wantErr: true},
		{name: "broken object", reply: `{"name": `, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out payload
			err := decodeOutput(tt.reply, &out)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeOutput: %v", err)
			}
			if out.Name != tt.want {
				t.Errorf("name = %q, want %q", out.Name, tt.want)
			}
		})
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short string untouched", in: "golang", n: 10, want: "golang"},
		{name: "ascii cut", in: "golang", n: 2, want: "go"},
		{name: "cut inside a rune backs up", in: "héllo", n: 2, want: "h"},
		{name: "cut on a rune boundary", in: "héllo", n: 3, want: "hé"},
		{name: "multibyte only", in: "日本語", n: 4, want: "日"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
			}
		})
	}
}
