package services

import (
	"context"
	"strings"
	"testing"

	"github.com/tbourn/persona-engine/internal/llm"
)

func TestExtractName_Precedence(t *testing.T) {
	history := []llm.Turn{{Role: llm.RoleUser, Content: "i go by Sam"}}
	cases := []struct {
		name    string
		message string
		lore    string
		history []llm.Turn
		want    string
	}{
		{"call me", "Hey it's me, call me Jay", "", nil, "Jay"},
		{"message beats lore", "I'm Mike", "my name is Tom", history, "Mike"},
		{"lore beats history", "hello", "my name is Tom", history, "Tom"},
		{"fan name fact", "hello", "Fan likes hiking\nFan Name: Jake", history, "Jake"},
		{"default name ignored", "hello", "Fan Name: Unknown", history, "Sam"},
		{"history", "hello", "", history, "Sam"},
		{"none", "hello there", "Fan likes hiking", nil, ""},
		{"name's", "NAME'S bob", "", nil, "Bob"},
		{"curly apostrophe", "I’m zoë", "", nil, "Zoë"},
		{"pattern order over position", "my name is Ann but call me Annie", "", nil, "Annie"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractName(tc.message, tc.lore, tc.history); got != tc.want {
				t.Fatalf("ExtractName = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestUpdateLore_AppendsNewFact(t *testing.T) {
	f := &fakeLLM{lore: "Fan has a dog named Rex"}
	e := NewLoreExtractor(f, "Sarah")

	got := e.UpdateLore(context.Background(), "my dog Rex is the best", "Fan likes hiking")
	if want := "Fan likes hiking\nFan has a dog named Rex"; got != want {
		t.Fatalf("UpdateLore = %q; want %q", got, want)
	}

	req, ok := f.last(llm.PurposeLore)
	if !ok {
		t.Fatal("no lore request sent")
	}
	if !strings.Contains(req.System, "Fan likes hiking") || !strings.Contains(req.System, "my dog Rex is the best") {
		t.Fatalf("prompt must carry previous lore and message:\n%s", req.System)
	}
	if !strings.Contains(req.System, "Sarah") || !strings.Contains(req.System, NoNewInfo) {
		t.Fatalf("prompt missing persona name or sentinel")
	}
	if req.Temperature != 0.3 || req.TopP != 0.8 || req.MaxTokens != 200 {
		t.Fatalf("unexpected sampling params: %+v", req)
	}
}

func TestUpdateLore_EmptyPrevious(t *testing.T) {
	e := NewLoreExtractor(&fakeLLM{lore: "  Fan Name: Mike \n"}, "")
	if got := e.UpdateLore(context.Background(), "I'm Mike", ""); got != "Fan Name: Mike" {
		t.Fatalf("got %q", got)
	}
}

func TestUpdateLore_NeverShrinks(t *testing.T) {
	prev := "Fan likes hiking\nFan is from Chicago"
	cases := []struct {
		name string
		out  string
		err  error
	}{
		{"sentinel", "NO_NEW_INFO", nil},
		{"quoted sentinel", `"NO_NEW_INFO"`, nil},
		{"empty", "   ", nil},
		{"backend error", "", errBoom},
		{"duplicate fact", "Fan is from Chicago", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewLoreExtractor(&fakeLLM{lore: tc.out, loreErr: tc.err}, "Sarah")
			if got := e.UpdateLore(context.Background(), "hi", prev); got != prev {
				t.Fatalf("lore changed to %q", got)
			}
		})
	}
}

func TestUpdateLore_PrefixPreserved(t *testing.T) {
	lore := ""
	facts := []string{"Fan Name: Jay", "Fan likes kayaking", "Fan has a cat"}
	for _, fact := range facts {
		prev := lore
		lore = NewLoreExtractor(&fakeLLM{lore: fact}, "").UpdateLore(context.Background(), "x", prev)
		if !strings.HasPrefix(lore, prev) {
			t.Fatalf("%q is not a prefix of %q", prev, lore)
		}
	}
	if lore != strings.Join(facts, "\n") {
		t.Fatalf("final lore = %q", lore)
	}
}
