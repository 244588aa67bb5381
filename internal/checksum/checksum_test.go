package checksum

import "testing"

func TestSum(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sum([]byte("abc")); got != want {
		t.Errorf("Sum = %q, want %q", got, want)
	}
}

func TestETag(t *testing.T) {
	got := ETag([]byte("abc"))
	if got[0] != '"' || got[len(got)-1] != '"' {
		t.Errorf("ETag not quoted: %s", got)
	}
	if got[1:len(got)-1] != Sum([]byte("abc")) {
		t.Errorf("ETag = %s", got)
	}
}
