// Package validate tests cover input validation helpers.
package validate

import "testing"

// TestUsername covers accepted and rejected username forms.
func TestUsername(t *testing.T) {
	for _, ok := range []string{"alice", "a", "bob.smith", "x_y-z.9"} {
		if err := Username(ok); err != nil {
			t.Fatalf("Username(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", ".hidden", "-dash", "has space", "ver/y"} {
		if err := Username(bad); err == nil {
			t.Fatalf("Username(%q): expected error", bad)
		}
	}
}

// TestDirName rejects separators and dot directories.
func TestDirName(t *testing.T) {
	if err := DirName(".recycle"); err != nil {
		t.Fatalf("DirName(.recycle): %v", err)
	}
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		if err := DirName(bad); err == nil {
			t.Fatalf("DirName(%q): expected error", bad)
		}
	}
}
