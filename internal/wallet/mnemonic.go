// Package wallet implements HD key custody and transaction construction for
// the supported UTXO coins.
package wallet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tyler-smith/go-bip39"
)

// entropyBits maps each supported word count to its BIP-39 entropy size.
var entropyBits = map[int]int{
	12: 128,
	15: 160,
	18: 192,
	21: 224,
	24: 256,
}

// DefaultWordCount is the word count used when none is requested.
const DefaultWordCount = 12

var (
	wordIndexOnce sync.Once
	wordIndex     map[string]struct{}
)

func isWord(w string) bool {
	wordIndexOnce.Do(func() {
		list := bip39.GetWordList()
		wordIndex = make(map[string]struct{}, len(list))
		for _, word := range list {
			wordIndex[word] = struct{}{}
		}
	})
	_, ok := wordIndex[w]
	return ok
}

// GenerateMnemonic creates a new BIP-39 mnemonic with the given number of
// words (12, 15, 18, 21 or 24).
func GenerateMnemonic(wordCount int) (string, error) {
	bits, ok := entropyBits[wordCount]
	if !ok {
		return "", fmt.Errorf("%w: word count %d not in {12,15,18,21,24}", ErrInvalidParameter, wordCount)
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// NormalizeMnemonic lower-cases a phrase and collapses whitespace.
func NormalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// MnemonicWordCount returns the number of words in a phrase.
func MnemonicWordCount(phrase string) int {
	return len(strings.Fields(phrase))
}

// ValidateMnemonic checks if a mnemonic is valid per BIP-39
// (correct word count, valid words, valid checksum).
func ValidateMnemonic(phrase string) bool {
	return CheckMnemonic(phrase) == nil
}

// CheckMnemonic is ValidateMnemonic with a diagnostic. The returned error
// wraps ErrInvalidSeedPhrase.
func CheckMnemonic(phrase string) error {
	words := strings.Fields(NormalizeMnemonic(phrase))
	if _, ok := entropyBits[len(words)]; !ok {
		return fmt.Errorf("%w: %d words", ErrInvalidSeedPhrase, len(words))
	}
	for i, w := range words {
		if !isWord(w) {
			return fmt.Errorf("%w: word %d is not in the word list", ErrInvalidSeedPhrase, i+1)
		}
	}
	if _, err := bip39.EntropyFromMnemonic(strings.Join(words, " ")); err != nil {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidSeedPhrase)
	}
	return nil
}
