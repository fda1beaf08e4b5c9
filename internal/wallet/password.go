package wallet

import "unicode"

// Strength is an advisory password rating.
type Strength int

const (
	Horrible Strength = iota + 1
	Weak
	Medium
	Good
	Strong
	Paranoiac
)

func (s Strength) String() string {
	switch s {
	case Horrible:
		return "horrible"
	case Weak:
		return "weak"
	case Medium:
		return "medium"
	case Good:
		return "good"
	case Strong:
		return "strong"
	case Paranoiac:
		return "paranoiac"
	default:
		return "unknown"
	}
}

// Acceptable reports whether s is at least Medium.
func (s Strength) Acceptable() bool {
	return s >= Medium
}

// ScorePassword rates a candidate password. Length and distinct characters
// are counted in runes.
func ScorePassword(candidate string) Strength {
	runes := []rune(candidate)
	if len(runes) < 8 {
		return Horrible
	}

	distinct := make(map[rune]struct{}, len(runes))
	var upper, lower, digit, other bool
	for _, r := range runes {
		distinct[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	if len(distinct) < 6 {
		return Weak
	}

	score := 0
	for _, present := range []bool{upper, lower, digit, other} {
		if present {
			score++
		}
	}
	if len(runes) > 16 {
		score++
	}
	if len(distinct) > 10 {
		score++
	}
	return Strength(score)
}
