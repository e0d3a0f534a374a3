package router

import (
	"reflect"
	"testing"
)

func TestTreeAddAndFind(t *testing.T) {
	root := newRoot()
	root.add([]string{"fee"}, Command{Route: "fee"})
	root.add([]string{"fee", "pay"}, Command{Route: "fee pay"})
	root.add([]string{"poll", "new"}, Command{Route: "poll new"})

	if n := root.find([]string{"fee", "pay"}); n == nil || n.cmd == nil || n.cmd.Route != "fee pay" {
		t.Fatalf("find fee pay = %+v", n)
	}
	// "poll" exists as a container only
	if n := root.find([]string{"poll"}); n == nil || n.cmd != nil {
		t.Fatalf("poll should be a container, got %+v", n)
	}
	if n := root.find([]string{"nope"}); n != nil {
		t.Fatalf("find nope = %+v, want nil", n)
	}
	if got, want := root.childNames(), []string{"fee", "poll"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("childNames = %v, want %v", got, want)
	}
}

func TestSplitRoute(t *testing.T) {
	if got := splitRoute("  fee   pay "); !reflect.DeepEqual(got, []string{"fee", "pay"}) {
		t.Fatalf("splitRoute = %v", got)
	}
	if got := splitRoute(""); got != nil {
		t.Fatalf("splitRoute empty = %v, want nil", got)
	}
}
