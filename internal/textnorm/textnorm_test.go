package textnorm

import "testing"

func TestFold_CaseAndCompatibility(t *testing.T) {
	if Fold("PassWord") != Fold("password") {
		t.Error("ascii case should fold")
	}
	// Fullwidth letters normalize to ASCII under NFKC.
	if Fold("ＰＡＳＳ") != "pass" {
		t.Errorf("fullwidth fold = %q", Fold("ＰＡＳＳ"))
	}
	if Fold("Straße") != Fold("STRASSE") {
		t.Error("full case folding should map ß to ss")
	}
}

func TestPrepare_CaseSensitiveKeepsCase(t *testing.T) {
	if Prepare("Git Push", true) != "Git Push" {
		t.Error("case-sensitive prepare must not fold")
	}
	if Prepare("Git Push", false) != "git push" {
		t.Error("case-insensitive prepare must fold")
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("ssh user@staging.example.com -i ~/.ssh/key.pem")
	want := []string{"ssh", "user", "staging", "example", "com", "i", "ssh", "key", "pem"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
