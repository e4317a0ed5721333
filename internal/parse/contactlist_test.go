package parse

import (
	"reflect"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in     string
		region string
		want   string
		ok     bool
	}{
		{"801-555-1234", "US", "+18015551234", true},
		{"(801) 555-1234", "US", "+18015551234", true},
		{"+18015551234", "US", "+18015551234", true},
		{"+44 20 7946 0958", "US", "+442079460958", true},
		{"123", "US", "", false},
		{"not a number", "US", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in, tc.region)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("NormalizePhone(%q) = (%q, %v), want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("NormalizePhone(%q) should fail", tc.in)
		}
	}
}

func TestContactList(t *testing.T) {
	got := ContactList("Sarah 801-555-1234; Jenna 801-555-4567", "US")
	want := []ParsedContact{
		{Name: "Sarah", Phone: "+18015551234"},
		{Name: "Jenna", Phone: "+18015554567"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestContactList_Edges(t *testing.T) {
	// Newline separation and a nameless number
	got := ContactList("Grandma Sue (801) 555-1234\n801-555-4567", "US")
	want := []ParsedContact{
		{Name: "Grandma Sue", Phone: "+18015551234"},
		{Name: "Unknown", Phone: "+18015554567"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// Segments without a valid phone are dropped
	if got := ContactList("Sarah; call Jenna later; 123", "US"); got != nil {
		t.Fatalf("invalid segments should be skipped, got %v", got)
	}
	if got := ContactList("", "US"); got != nil {
		t.Fatalf("empty input: %v", got)
	}
}
