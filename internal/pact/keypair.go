// Package pact builds and signs Pact exec commands for Chainweb. It is
// the trusted signer collaborator of the authorization engine: given
// decrypted key material and a transaction intent it produces the
// signed-command object staged for user confirmation.
package pact

import "github.com/kda-wallet/bridge/pkg/types"

// localSecretKeyHexLen is the hex length of a plain ed25519 seed. Key
// material longer than this carries the full private key of an
// externally derived keypair and signs through the detached path.
const localSecretKeyHexLen = 64

// KeyKind classifies a keypair's signing capability.
type KeyKind int

const (
	// KeyPublicOnly has no secret material; its signature slot stays
	// open for an external signer.
	KeyPublicOnly KeyKind = iota

	// KeyLocal is a plain ed25519 seed that signs inline during
	// command construction.
	KeyLocal

	// KeyExternal carries a full external private key; its signature
	// is computed detached, over the finished command hash.
	KeyExternal
)

// KeyPair is a signing identity plus the capability list it signs for.
type KeyPair struct {
	PublicKey string
	SecretKey string
	Clist     []types.Cap
}

// NewKeyPair builds a keypair from decrypted wallet material.
func NewKeyPair(publicKey, secretKey string) KeyPair {
	return KeyPair{PublicKey: publicKey, SecretKey: secretKey}
}

// Kind reports how this keypair signs.
func (k KeyPair) Kind() KeyKind {
	switch {
	case len(k.SecretKey) == localSecretKeyHexLen:
		return KeyLocal
	case len(k.SecretKey) > localSecretKeyHexLen:
		return KeyExternal
	default:
		return KeyPublicOnly
	}
}
