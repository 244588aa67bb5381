package codeblock

import "testing"

func TestExtractFirst_SingleBlock(t *testing.T) {
	got, ok := ExtractFirst("Here:\n```python\ndef f():\n    pass\n```\nDone.", Python)
	if !ok {
		t.Fatal("expected a block")
	}
	if got != "def f():\n    pass" {
		t.Errorf("code = %q", got)
	}
}

func TestExtractFirst_OnlyFirstOfMany(t *testing.T) {
	text := "```python\nfirst = 1\n```\nor alternatively\n```python\nsecond = 2\n```"
	got, ok := ExtractFirst(text, Python)
	if !ok || got != "first = 1" {
		t.Errorf("ExtractFirst = (%q, %v), want (\"first = 1\", true)", got, ok)
	}
}

func TestExtractFirst_Absent(t *testing.T) {
	for _, text := range []string{
		"",
		"no code here",
		"```go\nfmt.Println()\n```",
		"```Python\nx = 1\n```",
		"``` python\nx = 1\n```",
		"```python\nunterminated",
	} {
		if got, ok := ExtractFirst(text, Python); ok {
			t.Errorf("ExtractFirst(%q) = %q, want absent", text, got)
		}
	}
}

func TestExtractFirst_EmptyBlockIsPresent(t *testing.T) {
	got, ok := ExtractFirst("```python\n```", Python)
	if !ok {
		t.Fatal("empty block should be present")
	}
	if got != "" {
		t.Errorf("code = %q, want empty", got)
	}
}

func TestExtractFirst_PreservesInteriorWhitespace(t *testing.T) {
	got, ok := ExtractFirst("```python\n\n  a = 1\n\n\n  b = 2  \n\n```", Python)
	if !ok {
		t.Fatal("expected a block")
	}
	if got != "a = 1\n\n\n  b = 2" {
		t.Errorf("code = %q", got)
	}
}

func TestExtractFirst_OtherTagsAndSpecialChars(t *testing.T) {
	got, ok := ExtractFirst("text ```c++\nint main() {}\n``` more", "c++")
	if !ok || got != "int main() {}" {
		t.Errorf("c++ block = (%q, %v)", got, ok)
	}
	// A block of another language before the requested one is skipped.
	got, ok = ExtractFirst("```bash\nls\n```\n```python\nprint(1)\n```", Python)
	if !ok || got != "print(1)" {
		t.Errorf("python after bash = (%q, %v)", got, ok)
	}
}

func TestExtractAll(t *testing.T) {
	blocks := ExtractAll("```go\nx := 1\n```\ntext\n```python\ny = 2\n```\n```\nplain\n```")
	if len(blocks) != 3 {
		t.Fatalf("len(blocks) = %d, want 3", len(blocks))
	}
	want := []Block{
		{Language: "go", Code: "x := 1"},
		{Language: "python", Code: "y = 2"},
		{Language: "", Code: "plain"},
	}
	for i, w := range want {
		if blocks[i] != w {
			t.Errorf("block %d = %+v, want %+v", i, blocks[i], w)
		}
	}
}

func TestExt(t *testing.T) {
	cases := map[string]string{
		"python": ".py",
		"Python": ".py",
		"go":     ".go",
		"sh":     ".sh",
		"md":     ".md",
		"cobol":  ".txt",
	}
	for lang, want := range cases {
		if got := Ext(lang); got != want {
			t.Errorf("Ext(%q) = %q, want %q", lang, got, want)
		}
	}
}
