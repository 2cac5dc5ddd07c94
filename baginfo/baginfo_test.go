package baginfo

import (
	"bufio"
	"strings"
	"testing"

	"github.com/ndlib/bagit/declaration"
)

var v1 = declaration.Version{Major: 1, Minor: 0}
var v0 = declaration.Version{Major: 0, Minor: 97}

func TestParseBasic(t *testing.T) {
	const body = "Source-Organization: ACME\n" +
		"Contact-Name: Jane Doe\n" +
		"  continuing on next line\n"
	s, problems := Parse(bufio.NewScanner(strings.NewReader(body)), v1)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if !s.Has("source-organization") {
		t.Errorf("expected Has(source-organization)")
	}
	got := s.GetAll("Contact-Name")
	if len(got) != 1 || got[0] != "Jane Doe continuing on next line" {
		t.Errorf("GetAll(Contact-Name) = %v", got)
	}
}

func TestParseContinuationWithoutPredecessor(t *testing.T) {
	const body = "  orphan continuation\n"
	_, problems := Parse(bufio.NewScanner(strings.NewReader(body)), v1)
	if len(problems) != 1 || problems[0].Kind != KindParse {
		t.Fatalf("problems = %v, want one KindParse", problems)
	}
}

func TestParseMustNotRepeat(t *testing.T) {
	const body = "Payload-Oxum: 3.1\nPayload-Oxum: 4.1\n"
	_, problems := Parse(bufio.NewScanner(strings.NewReader(body)), v1)
	if len(problems) != 1 || problems[0].Kind != KindMustNotRepeat || problems[0].Line != 2 {
		t.Fatalf("problems = %v, want one KindMustNotRepeat at line 2", problems)
	}
}

func TestParseShouldNotRepeatIsNotAnError(t *testing.T) {
	const body = "Bagging-Date: 2020-01-01\nBagging-Date: 2020-01-02\n"
	_, problems := Parse(bufio.NewScanner(strings.NewReader(body)), v1)
	if len(problems) != 1 || problems[0].Kind != KindShouldNotRepeat {
		t.Fatalf("problems = %v, want one KindShouldNotRepeat", problems)
	}
}

func TestParseAllShouldNotRepeatTagsAreWarnings(t *testing.T) {
	for _, tag := range []string{"Bag-Size", "Bag-Group-Identifier", "Bag-Count"} {
		body := tag + ": first\n" + tag + ": second\n"
		_, problems := Parse(bufio.NewScanner(strings.NewReader(body)), v1)
		if len(problems) != 1 || problems[0].Kind != KindShouldNotRepeat {
			t.Errorf("tag %s: problems = %v, want one KindShouldNotRepeat", tag, problems)
		}
	}
}

func TestParseWhitespaceAroundTagIsErrorForVersion1(t *testing.T) {
	const body = "Source-Organization : ACME\n"
	_, problems := Parse(bufio.NewScanner(strings.NewReader(body)), v1)
	if len(problems) != 1 || problems[0].Kind != KindParse {
		t.Fatalf("problems = %v, want one KindParse", problems)
	}
}

func TestParseWhitespaceAroundTagAllowedBeforeVersion1(t *testing.T) {
	const body = "Source-Organization : ACME\n"
	_, problems := Parse(bufio.NewScanner(strings.NewReader(body)), v0)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems for pre-1.0 bag: %v", problems)
	}
}

func TestSetRejectsGenerated(t *testing.T) {
	s := New()
	if err := s.Set("Payload-Oxum", "1.1"); err != ErrSetGenerated {
		t.Errorf("Set(Payload-Oxum) error = %v, want ErrSetGenerated", err)
	}
}

func TestRemoveAllAndAt(t *testing.T) {
	s := New()
	s.Set("Keyword", "a")
	s.Set("Keyword", "b")
	s.Set("Other", "x")
	if got := s.GetAll("Keyword"); len(got) != 2 {
		t.Fatalf("GetAll(Keyword) = %v, want 2 entries", got)
	}
	s.RemoveAt("Keyword", 0)
	if got := s.GetAll("Keyword"); len(got) != 1 || got[0] != "b" {
		t.Errorf("after RemoveAt: GetAll(Keyword) = %v", got)
	}
	s.RemoveAll("Keyword")
	if s.Has("Keyword") {
		t.Errorf("expected Keyword removed")
	}
	if !s.Has("Other") {
		t.Errorf("expected Other to survive")
	}
}

func TestSerializeDropsGeneratedAndAppendsFresh(t *testing.T) {
	s := New()
	s.Set("Source-Organization", "ACME")
	s.entries = append(s.entries, Entry{Tag: "Payload-Oxum", Value: "99.99"})
	s.rebuildIndex()

	var out strings.Builder
	w := bufio.NewWriter(&out)
	err := s.Serialize(w, []Entry{
		{Tag: "Payload-Oxum", Value: "3.1"},
		{Tag: "Bagging-Date", Value: "2020-01-01"},
	})
	if err != nil {
		t.Fatalf("Serialize: %s", err)
	}
	want := "Source-Organization: ACME\nPayload-Oxum: 3.1\nBagging-Date: 2020-01-01\n"
	if out.String() != want {
		t.Errorf("Serialize() = %q, want %q", out.String(), want)
	}
}

func TestFoldLongValue(t *testing.T) {
	long := strings.Repeat("word ", 30)
	lines := fold("Description", strings.TrimSpace(long))
	if len(lines) < 2 {
		t.Fatalf("expected folding across multiple lines, got %v", lines)
	}
	for i, l := range lines {
		if i > 0 && !strings.HasPrefix(l, "  ") {
			t.Errorf("continuation line %d = %q, want two-space prefix", i, l)
		}
		if len(l) > foldWidth+40 {
			t.Errorf("line %d too long: %q", i, l)
		}
	}
}

func TestFoldSingleTokenTooLongStillEmitted(t *testing.T) {
	giant := strings.Repeat("x", 200)
	lines := fold("Tag", giant)
	if len(lines) != 1 {
		t.Fatalf("expected single line for unsplittable token, got %v", lines)
	}
}
