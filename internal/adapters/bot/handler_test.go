package bot

import (
	"testing"

	"tg-title-bot/internal/domain"
)

func TestParseBoardCallback(t *testing.T) {
	order, page := parseBoardCallback("board:desc:3")
	if order != domain.OrderDesc || page != 3 {
		t.Fatalf("expected desc/3, got %s/%d", order, page)
	}

	order, page = parseBoardCallback("board:bogus")
	if order != domain.OrderAsc || page != 0 {
		t.Fatalf("malformed data should fall back to asc/0, got %s/%d", order, page)
	}
}

func TestSplitTargetAndText(t *testing.T) {
	target, text, ok := splitTargetAndText("@user  Super Gay Title")
	if !ok || target != "@user" || text != "Super Gay Title" {
		t.Fatalf("unexpected parse: %q %q %v", target, text, ok)
	}

	if _, _, ok := splitTargetAndText("@user"); ok {
		t.Fatal("expected failure without title text")
	}
}

func TestParseOrder(t *testing.T) {
	if parseOrder("DESC") != domain.OrderDesc {
		t.Fatal("expected desc order")
	}
	if parseOrder("") != domain.OrderAsc {
		t.Fatal("expected asc by default")
	}
}
