package core

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/venue run", []string{"/venue", "run"}},
		{`/venue slots 1 "2026-03-02"`, []string{"/venue", "slots", "1", "2026-03-02"}},
		{"/cmd a 'b c' --k=v", []string{"/cmd", "a", "b c", "--k=v"}},
		{"  ", nil},
	}
	for _, c := range cases {
		if got := tokenizeCommandLine(c.in); !reflect.DeepEqual(got, c.want) {
			t.Fatalf("tokenize(%q) = %#v, want %#v", c.in, got, c.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	pos, flags, bools := parseFlags([]string{"2", "--date", "2026-03-02", "--force", "-v"})
	if !reflect.DeepEqual(pos, []string{"2"}) {
		t.Fatalf("unexpected positionals: %#v", pos)
	}
	if flags["date"] != "2026-03-02" {
		t.Fatalf("unexpected flags: %#v", flags)
	}
	if !bools["force"] || !bools["v"] {
		t.Fatalf("unexpected bools: %#v", bools)
	}
}

func TestCommandTreeRouting(t *testing.T) {
	root := newRoot()
	root.add([]string{"venue", "run"}, Command{Route: "venue run"})
	root.add([]string{"venue", "status"}, Command{Route: "venue status"})

	if n := root.find([]string{"venue", "run"}); n == nil || n.cmd == nil || n.cmd.Route != "venue run" {
		t.Fatalf("failed to find leaf: %+v", n)
	}
	if n := root.find([]string{"venue"}); n == nil || n.cmd != nil {
		t.Fatalf("container node should have no handler: %+v", n)
	}
	if n := root.find([]string{"venue", "missing"}); n != nil {
		t.Fatalf("expected nil for unknown path, got %+v", n)
	}
	names := root.find([]string{"venue"}).childNames()
	if !reflect.DeepEqual(names, []string{"run", "status"}) {
		t.Fatalf("unexpected child names: %#v", names)
	}
}
