package search

import "testing"

func TestFlattenTables_HeaderRowsBecomeLabelledFacts(t *testing.T) {
	in := "Intro line\n| Name | Born |\n|---|:---:|\n| Ada | 1815 |\n| Alan | 1912 |\nAfter"
	want := "Intro line\n\nName: Ada; Born: 1815\n\nName: Alan; Born: 1912\n\nAfter\n"
	if got := FlattenTables(in); got != want {
		t.Fatalf("FlattenTables mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestFlattenTables_HeaderlessRowsAreJoined(t *testing.T) {
	in := "| alpha | beta |\n| | gamma |"
	want := "alpha beta\n\ngamma\n"
	if got := FlattenTables(in); got != want {
		t.Fatalf("FlattenTables mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestFlattenTables_PlainTextKeepsParagraphs(t *testing.T) {
	in := "  first paragraph  \n\n\n\nsecond paragraph\n"
	want := "  first paragraph\n\nsecond paragraph\n"
	if got := FlattenTables(in); got != want {
		t.Fatalf("FlattenTables mismatch:\n got: %q\nwant: %q", got, want)
	}
	if got := FlattenTables(""); got != "" {
		t.Fatalf("empty input should stay empty, got %q", got)
	}
}

func TestFlattenTables_EmptyHeaderCellAndSeparatorOnly(t *testing.T) {
	in := "| | Score |\n|--|--|\n| Ada | 9 |\n|---|"
	want := "Ada; Score: 9\n"
	if got := FlattenTables(in); got != want {
		t.Fatalf("FlattenTables mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestIsSeparatorAndTableRow(t *testing.T) {
	if !isSeparator([]string{"---", ":--:", " - "}) {
		t.Fatalf("separator not detected")
	}
	if isSeparator([]string{"---", "x"}) {
		t.Fatalf("content row detected as separator")
	}
	if isTableRow("|") || isTableRow("a | b") || !isTableRow("| a |") {
		t.Fatalf("isTableRow mismatch")
	}
}
