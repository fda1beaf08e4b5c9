package wallet

import (
	"errors"
	"strings"
	"testing"
)

const (
	testMnemonic12 = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testMnemonic24 = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"
)

func TestGenerateMnemonic(t *testing.T) {
	for _, n := range []int{12, 15, 18, 21, 24} {
		mnemonic, err := GenerateMnemonic(n)
		if err != nil {
			t.Fatalf("GenerateMnemonic(%d) error: %v", n, err)
		}
		if got := len(strings.Fields(mnemonic)); got != n {
			t.Errorf("GenerateMnemonic(%d) word count = %d", n, got)
		}
		if !ValidateMnemonic(mnemonic) {
			t.Errorf("GenerateMnemonic(%d) produced an invalid phrase", n)
		}
	}
}

func TestGenerateMnemonic_BadWordCount(t *testing.T) {
	for _, n := range []int{0, 11, 13, 25} {
		if _, err := GenerateMnemonic(n); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("GenerateMnemonic(%d) error = %v, want ErrInvalidParameter", n, err)
		}
	}
}

func TestGenerateMnemonic_Unique(t *testing.T) {
	m1, err := GenerateMnemonic(DefaultWordCount)
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	m2, err := GenerateMnemonic(DefaultWordCount)
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}

	if m1 == m2 {
		t.Error("two generated mnemonics should not be identical")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		valid    bool
	}{
		{"valid 24-word BIP-39", testMnemonic24, true},
		{"valid 12-word BIP-39", testMnemonic12, true},
		{"upper case and extra spaces", "  ABANDON abandon abandon abandon abandon abandon\tabandon abandon abandon abandon abandon About ", true},
		{"empty string", "", false},
		{"random words", "not a valid mnemonic phrase at all", false},
		{"wrong checksum", strings.Repeat("abandon ", 23) + "abandon", false},
		{"unknown word", strings.Repeat("abandon ", 11) + "aboutt", false},
		{"single word", "abandon", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateMnemonic(tt.mnemonic); got != tt.valid {
				t.Errorf("ValidateMnemonic() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestCheckMnemonic_WrapsInvalidSeedPhrase(t *testing.T) {
	err := CheckMnemonic("abandon abandon")
	if !errors.Is(err, ErrInvalidSeedPhrase) {
		t.Fatalf("CheckMnemonic() error = %v, want ErrInvalidSeedPhrase", err)
	}
}

func TestNormalizeMnemonic(t *testing.T) {
	got := NormalizeMnemonic("  Abandon\n ABOUT  ")
	if got != "abandon about" {
		t.Errorf("NormalizeMnemonic() = %q", got)
	}
	if n := MnemonicWordCount(testMnemonic12); n != 12 {
		t.Errorf("MnemonicWordCount() = %d, want 12", n)
	}
}
