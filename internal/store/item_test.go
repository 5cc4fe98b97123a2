package store

import (
	"strings"
	"testing"
)

func TestListItemsQueryBindsLimit(t *testing.T) {
	query, args := listItemsQuery("atlas", "", 25)
	if !strings.HasSuffix(query, "LIMIT $2") {
		t.Fatalf("unfiltered query ends %q, want LIMIT $2", query)
	}
	if len(args) != 2 || args[1] != int32(25) {
		t.Fatalf("unfiltered args = %v", args)
	}

	query, args = listItemsQuery("atlas", "graph-mail", 25)
	if !strings.HasSuffix(query, "LIMIT $3") {
		t.Fatalf("filtered query ends %q, want LIMIT $3", query)
	}
	if len(args) != 3 || args[1] != "graph-mail" || args[2] != int32(25) {
		t.Fatalf("filtered args = %v", args)
	}
}
