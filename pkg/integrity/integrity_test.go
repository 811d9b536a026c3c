package integrity

import (
	"strings"
	"testing"
)

func TestDigestKnownValue(t *testing.T) {
	// sha1("abc")
	want := "a9993e364706816aba3e25717850c26c9cd0d89d"
	if got := Digest([]byte("abc")); got != want {
		t.Errorf("Digest = %s, want %s", got, want)
	}
}

func TestVerify(t *testing.T) {
	payload := []byte("piece payload")
	d := Digest(payload)
	if !Verify(payload, d) {
		t.Error("Verify rejected matching payload")
	}
	if !Verify(payload, strings.ToUpper(d)) {
		t.Error("Verify should ignore hex case")
	}
	if Verify([]byte("piece payloaD"), d) {
		t.Error("Verify accepted tampered payload")
	}
	if Verify(payload, "abc") {
		t.Error("Verify accepted short digest")
	}
}
