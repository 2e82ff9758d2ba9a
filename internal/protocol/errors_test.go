package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := append([]string{""}, Codes()...)
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
	if len(Codes()) != len(knownCodes) {
		t.Fatalf("Codes() out of sync with knownCodes")
	}
}
