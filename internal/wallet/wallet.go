// Package wallet is the local signing authority. It plays the part a browser
// extension plays for a web page: an origin asks for access, gets back the
// accounts it may use and receives signers that never hand out key material.
package wallet

import (
	"context"
	"errors"

	"github.com/jask/dotsend/internal/chain"
)

// ErrNoSigner is returned when no stored key matches the requested address.
var ErrNoSigner = errors.New("wallet: no signer for address")

// Extension is one authority that granted access to an origin.
type Extension struct {
	Name     string
	Version  string
	Accounts []string
}

// Authority grants origins access to accounts and produces signers for them.
type Authority interface {
	// RequestAuthorization returns the extensions that allow origin. An empty
	// result means no wallet is available to it.
	RequestAuthorization(ctx context.Context, origin string) ([]Extension, error)
	SignerFor(ctx context.Context, address string) (chain.Signer, error)
}
