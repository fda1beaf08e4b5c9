package wallet

import (
	"errors"
	"strings"

	"github.com/Klingon-tech/klingvault/pkg/coin"
)

// ErrorCode classifies key store failures.
type ErrorCode uint8

const (
	CodeUnknown ErrorCode = iota
	CodeWrongPassword
	CodeSeedNotFound
	CodeSaveFailed
	CodeInvalidSeedPhrase
	CodeDerivationFailed
)

func (c ErrorCode) String() string {
	switch c {
	case CodeWrongPassword:
		return "WrongPassword"
	case CodeSeedNotFound:
		return "SeedNotFound"
	case CodeSaveFailed:
		return "SaveFailed"
	case CodeInvalidSeedPhrase:
		return "InvalidSeedPhrase"
	case CodeDerivationFailed:
		return "DerivationFailed"
	default:
		return "Unknown"
	}
}

// KeyStoreError is the error type of key store operations.
// Its message is short and safe to show; the underlying cause is logged at
// debug level and never attached.
type KeyStoreError struct {
	Code ErrorCode
	msg  string
}

func (e *KeyStoreError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	switch e.Code {
	case CodeWrongPassword:
		return "wrong password"
	case CodeSeedNotFound:
		return "wallet seed not found"
	case CodeSaveFailed:
		return "failed to save wallet"
	case CodeInvalidSeedPhrase:
		return "invalid seed phrase"
	case CodeDerivationFailed:
		return "key derivation failed"
	default:
		return "unknown wallet error"
	}
}

// Is matches a KeyStoreError with the same code. A target with a custom
// message also requires the message to match.
func (e *KeyStoreError) Is(target error) bool {
	t, ok := target.(*KeyStoreError)
	return ok && t.Code == e.Code && (t.msg == "" || t.msg == e.msg)
}

// Key store errors.
var (
	ErrUnknown           = &KeyStoreError{Code: CodeUnknown}
	ErrWrongPassword     = &KeyStoreError{Code: CodeWrongPassword}
	ErrSeedNotFound      = &KeyStoreError{Code: CodeSeedNotFound}
	ErrSaveFailed        = &KeyStoreError{Code: CodeSaveFailed}
	ErrInvalidSeedPhrase = &KeyStoreError{Code: CodeInvalidSeedPhrase}
	ErrDerivationFailed  = &KeyStoreError{Code: CodeDerivationFailed}

	ErrAlreadyInitialized = &KeyStoreError{Code: CodeUnknown, msg: "wallet already initialized"}
	ErrDestroyed          = &KeyStoreError{Code: CodeUnknown, msg: "wallet has been destroyed"}
	ErrUnsupportedFormat  = &KeyStoreError{Code: CodeUnknown, msg: "unsupported wallet file format"}
)

// ErrLocked is returned when an operation needs the key store unlocked.
var ErrLocked = errors.New("wallet is locked")

// Derivation errors.
var (
	ErrKeyDerivation       = errors.New("key derivation error")
	ErrDerivationExhausted = errors.New("derivation index exhausted")
)

// Address registry errors.
var (
	ErrInvalidAddress            = coin.ErrInvalidAddress
	ErrDuplicateWatchOnlyAddress = errors.New("address is already in the wallet")
	ErrAddressNotFound           = errors.New("address not found")
)

// Selection and transaction errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrSigning           = errors.New("signing error")
	ErrNotSigned         = errors.New("transaction is not signed")
	ErrBroadcast         = errors.New("broadcast failed")
)

// UserMessage maps an error to a short, non-technical message for display.
func UserMessage(err error) string {
	var ks *KeyStoreError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ks):
		switch ks.Code {
		case CodeWrongPassword:
			return "The password is incorrect."
		case CodeSeedNotFound:
			return "No wallet has been set up yet."
		case CodeSaveFailed:
			return "The wallet could not be saved."
		case CodeInvalidSeedPhrase:
			return "The seed phrase is not valid."
		case CodeDerivationFailed:
			return "Wallet keys could not be generated."
		}
		if ks.msg != "" {
			return strings.ToUpper(ks.msg[:1]) + ks.msg[1:] + "."
		}
		return "Something went wrong with the wallet."
	case errors.Is(err, ErrLocked):
		return "Unlock the wallet first."
	case errors.Is(err, ErrInvalidAddress):
		return "The address is not valid for this coin."
	case errors.Is(err, ErrDuplicateWatchOnlyAddress):
		return "This address is already in the wallet."
	case errors.Is(err, ErrAddressNotFound):
		return "The address is not in the wallet."
	case errors.Is(err, ErrInsufficientFunds):
		return "Not enough funds to cover the amount and fee."
	case errors.Is(err, ErrInvalidParameter):
		return "The request is not valid."
	case errors.Is(err, ErrSigning):
		return "The transaction could not be signed."
	case errors.Is(err, ErrBroadcast):
		return "The network rejected the transaction: " +
			strings.TrimPrefix(err.Error(), ErrBroadcast.Error()+": ")
	case errors.Is(err, ErrDerivationExhausted):
		return "No more addresses can be created for this account."
	default:
		return "Something went wrong."
	}
}
