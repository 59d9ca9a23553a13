package ingest

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	ev, err := DecodeEvent(`{"id":7,"type":10,"baseType":1,"time":1700000000,"dataSourceId":1,"contentId":42,"fullDescription":"/Users/kim/Downloads/evil.zip","tagged":true}`)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.ID != 7 || ev.Time != 1700000000 || ev.ContentID != 42 {
		t.Errorf("decoded = %+v", ev)
	}
	if ev.MedDescription != "/Users/kim/Downloads/evil.zip" {
		t.Errorf("med description = %q", ev.MedDescription)
	}
	if ev.ShortDescription != "evil.zip" {
		t.Errorf("short description = %q, want evil.zip", ev.ShortDescription)
	}
	if ev.Tagged {
		t.Error("tagged flag should not be taken from input")
	}
}

func TestDecodeEventKeepsGivenDescriptions(t *testing.T) {
	t.Parallel()

	ev, err := DecodeEvent(`{"id":1,"type":20,"baseType":2,"dataSourceId":1,"contentId":2,"fullDescription":"full","medDescription":"med","shortDescription":"short"}`)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.FullDescription != "full" || ev.MedDescription != "med" || ev.ShortDescription != "short" {
		t.Errorf("descriptions = %q/%q/%q", ev.FullDescription, ev.MedDescription, ev.ShortDescription)
	}
}

func TestDecodeEventRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		line    string
		invalid bool
	}{
		{"not json", `hello`, false},
		{"unknown field", `{"id":1,"type":10,"baseType":1,"dataSourceId":1,"contentId":1,"fullDescription":"x","colour":"red"}`, false},
		{"no id", `{"type":10,"baseType":1,"dataSourceId":1,"contentId":1,"fullDescription":"x"}`, true},
		{"no type", `{"id":1,"dataSourceId":1,"contentId":1,"fullDescription":"x"}`, true},
		{"no data source", `{"id":1,"type":10,"baseType":1,"contentId":1,"fullDescription":"x"}`, true},
		{"no content", `{"id":1,"type":10,"baseType":1,"dataSourceId":1,"fullDescription":"x"}`, true},
		{"no description", `{"id":1,"type":10,"baseType":1,"dataSourceId":1,"contentId":1}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeEvent(tt.line)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, ErrInvalidEvent); got != tt.invalid {
				t.Errorf("errors.Is(ErrInvalidEvent) = %v, want %v (%v)", got, tt.invalid, err)
			}
		})
	}
}

func TestShortenCapsLength(t *testing.T) {
	t.Parallel()

	got := shorten(strings.Repeat("a", 200))
	if n := len([]rune(got)); n != shortDescriptionMax {
		t.Errorf("len = %d, want %d", n, shortDescriptionMax)
	}
	if got := shorten(`C:\Windows\notepad.exe`); got != "notepad.exe" {
		t.Errorf("shorten = %q", got)
	}
	if got := shorten("dir/"); got != "dir/" {
		t.Errorf("trailing separator: shorten = %q", got)
	}
}
