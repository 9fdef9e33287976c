package pact

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/kda-wallet/bridge/pkg/types"
)

// Meta is the public metadata of a Pact command.
type Meta struct {
	CreationTime int64   `json:"creationTime"`
	TTL          int64   `json:"ttl"`
	GasLimit     uint64  `json:"gasLimit"`
	ChainID      string  `json:"chainId"`
	GasPrice     float64 `json:"gasPrice"`
	Sender       string  `json:"sender"`
}

// MkMeta assembles command metadata. creationTime is epoch seconds.
func MkMeta(sender, chainID string, gasPrice float64, gasLimit uint64, creationTime, ttl int64) Meta {
	return Meta{
		CreationTime: creationTime,
		TTL:          ttl,
		GasLimit:     gasLimit,
		ChainID:      chainID,
		GasPrice:     gasPrice,
		Sender:       sender,
	}
}

type execPayload struct {
	Data any    `json:"data"`
	Code string `json:"code"`
}

type commandPayload struct {
	Exec execPayload `json:"exec"`
}

type commandSigner struct {
	PubKey string      `json:"pubKey"`
	Clist  []types.Cap `json:"clist,omitempty"`
}

type command struct {
	NetworkID string          `json:"networkId,omitempty"`
	Payload   commandPayload  `json:"payload"`
	Signers   []commandSigner `json:"signers"`
	Meta      Meta            `json:"meta"`
	Nonce     string          `json:"nonce"`
}

// Signer produces signed exec commands and detached signatures.
type Signer struct{}

// NewSigner creates a Pact command signer.
func NewSigner() *Signer {
	return &Signer{}
}

// PrepareExecCmd builds an exec command for the given keypairs and
// signs it inline for every keypair holding a local seed. Keypairs
// without local signing capability leave an open signature slot.
func (s *Signer) PrepareExecCmd(keyPairs []KeyPair, nonce, code string, envData any, meta Meta, networkID string) (*types.SignedCmd, error) {
	if envData == nil {
		envData = map[string]any{}
	}

	signers := make([]commandSigner, 0, len(keyPairs))
	for _, kp := range keyPairs {
		signers = append(signers, commandSigner{
			PubKey: kp.PublicKey,
			Clist:  kp.Clist,
		})
	}

	cmd := command{
		NetworkID: networkID,
		Payload: commandPayload{
			Exec: execPayload{Data: envData, Code: code},
		},
		Signers: signers,
		Meta:    meta,
		Nonce:   nonce,
	}

	cmdJSON, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	digest := blake2b.Sum256(cmdJSON)
	hash := base64.RawURLEncoding.EncodeToString(digest[:])

	sigs := make([]types.UserSig, 0, len(keyPairs))
	for _, kp := range keyPairs {
		if kp.Kind() != KeyLocal {
			sigs = append(sigs, types.UserSig{})
			continue
		}
		sig, err := signDigest(digest[:], kp.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign command: %w", err)
		}
		sigs = append(sigs, types.UserSig{Sig: &sig})
	}

	return &types.SignedCmd{
		Hash: hash,
		Sigs: sigs,
		Cmd:  string(cmdJSON),
	}, nil
}

// SignHash computes a detached signature over a finished command hash.
// Used for external keypairs whose material is the full private key.
func (s *Signer) SignHash(hash, secretKey string) (string, error) {
	digest, err := base64.RawURLEncoding.DecodeString(hash)
	if err != nil {
		return "", fmt.Errorf("failed to decode command hash: %w", err)
	}
	return signDigest(digest, secretKey)
}

// signDigest signs a command digest with hex key material: a 32-byte
// seed or a full 64-byte ed25519 private key.
func signDigest(digest []byte, secretKey string) (string, error) {
	keyBytes, err := hex.DecodeString(secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to decode secret key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch len(keyBytes) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(keyBytes)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(keyBytes)
	default:
		return "", fmt.Errorf("unsupported secret key length: %d bytes", len(keyBytes))
	}

	return hex.EncodeToString(ed25519.Sign(priv, digest)), nil
}
