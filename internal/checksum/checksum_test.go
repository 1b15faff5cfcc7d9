package checksum

import "testing"

func TestString(t *testing.T) {
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := String(""); got != empty {
		t.Errorf("String(\"\") = %s", got)
	}
	if String("ls -la") != Sum([]byte("ls -la")) {
		t.Error("String and Sum disagree")
	}
	if !Equal("a", "a") || Equal("a", "A") {
		t.Error("Equal is wrong")
	}
}
