package title

import (
	"errors"
	"testing"

	"tg-title-bot/internal/domain"
)

func TestExtractPercentage(t *testing.T) {
	cases := map[string]int{
		"I am 42% gay!":              42,
		"i am 0% gay!":               0,
		"I AM 100% GAY!":             100,
		"Результат: I am 7% gay! 😎": 7,
	}
	for text, want := range cases {
		got, err := ExtractPercentage(text)
		if err != nil {
			t.Fatalf("ExtractPercentage(%q): %v", text, err)
		}
		if got != want {
			t.Fatalf("ExtractPercentage(%q) = %d, ожидали %d", text, got, want)
		}
	}
}

func TestExtractPercentageRejectsGarbage(t *testing.T) {
	for _, text := range []string{"", "hello", "I am gay!", "I am lots% gay!"} {
		if _, err := ExtractPercentage(text); !errors.Is(err, ErrNotNotification) {
			t.Fatalf("ожидали ErrNotNotification для %q, получили %v", text, err)
		}
	}
}

func TestExtractPercentageRejectsOutOfRange(t *testing.T) {
	if _, err := ExtractPercentage("I am 146% gay!"); !errors.Is(err, domain.ErrInvalidPercentage) {
		t.Fatalf("ожидали ErrInvalidPercentage, получили %v", err)
	}
}

func TestShouldProcessFrom(t *testing.T) {
	if !ShouldProcessFrom("HowGayBot") {
		t.Fatal("уведомления исходного бота должны обрабатываться")
	}
	if ShouldProcessFrom("SomeOtherBot") || ShouldProcessFrom("") {
		t.Fatal("чужие сообщения не должны обрабатываться")
	}
}
