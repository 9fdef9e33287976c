package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kda-wallet/bridge/pkg/types"
)

// jsonNull clears a transient slot without removing the key, matching
// the reset-to-null startup semantics popups rely on.
var jsonNull = []byte("null")

// DecryptFunc decrypts a ciphertext with the session password.
type DecryptFunc func(ciphertext, password string) (string, error)

// Service is the typed layer over the raw key-value store. All wallet,
// network and permission state flows through it.
type Service struct {
	store   Store
	decrypt DecryptFunc
}

// NewService creates a session service over store using decrypt for
// at-rest key material.
func NewService(store Store, decrypt DecryptFunc) *Service {
	return &Service{store: store, decrypt: decrypt}
}

// Store exposes the underlying store for subscribers.
func (s *Service) Store() Store {
	return s.store
}

// SelectedNetwork returns the selected network, or nil when none is
// selected.
func (s *Service) SelectedNetwork(ctx context.Context) (*types.Network, error) {
	var network types.Network
	ok, err := s.getJSON(ctx, KeySelectedNetwork, &network)
	if err != nil || !ok {
		return nil, err
	}
	if network.NetworkID == "" {
		return nil, nil
	}
	return &network, nil
}

// SetSelectedNetwork persists the selected network.
func (s *Service) SetSelectedNetwork(ctx context.Context, network *types.Network) error {
	return s.setJSON(ctx, KeySelectedNetwork, network)
}

// SelectedWallet returns the selected wallet with its identity material
// decrypted. The secret key is only decrypted when withSecret is set.
// When no wallet is selected, a zero-value wallet on chain "0" is
// returned so read-only operations still answer.
func (s *Service) SelectedWallet(ctx context.Context, withSecret bool) (*types.Wallet, error) {
	stored, err := s.storedWallet(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil || stored.Account == "" {
		return &types.Wallet{
			ChainID:        "0",
			ConnectedSites: []string{},
		}, nil
	}

	password, err := s.accountPassword(ctx)
	if err != nil {
		return nil, err
	}

	account, err := s.decrypt(stored.Account, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt account: %w", err)
	}
	publicKey, err := s.decrypt(stored.PublicKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt public key: %w", err)
	}

	wallet := &types.Wallet{
		ChainID:        stored.ChainID,
		Account:        account,
		PublicKey:      publicKey,
		ConnectedSites: stored.ConnectedSites,
	}
	if wallet.ConnectedSites == nil {
		wallet.ConnectedSites = []string{}
	}

	if withSecret {
		secretKey, err := s.decrypt(stored.SecretKey, password)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt secret key: %w", err)
		}
		wallet.SecretKey = secretKey
	}

	return wallet, nil
}

// SetSelectedWallet persists the selected wallet in its encrypted form.
func (s *Service) SetSelectedWallet(ctx context.Context, wallet *types.StoredWallet) error {
	return s.setJSON(ctx, KeySelectedWallet, wallet)
}

// SelectedChainID returns the stored wallet's chain id without
// decrypting anything, or "" when no wallet is selected.
func (s *Service) SelectedChainID(ctx context.Context) (string, error) {
	stored, err := s.storedWallet(ctx)
	if err != nil || stored == nil {
		return "", err
	}
	return stored.ChainID, nil
}

// SetAccountPassword persists the session password used to decrypt the
// wallet's key material.
func (s *Service) SetAccountPassword(ctx context.Context, password string) error {
	return s.setJSON(ctx, KeyAccountPassword, password)
}

// ActiveDomains returns the session-scoped set of domains with a live
// access grant. Absent or null reads as the empty set.
func (s *Service) ActiveDomains(ctx context.Context) ([]string, error) {
	var domains []string
	if _, err := s.getJSON(ctx, KeyActiveDapps, &domains); err != nil {
		return nil, err
	}
	if domains == nil {
		domains = []string{}
	}
	return domains, nil
}

// SetActiveDomains replaces the active-domain set.
func (s *Service) SetActiveDomains(ctx context.Context, domains []string) error {
	if domains == nil {
		domains = []string{}
	}
	return s.setJSON(ctx, KeyActiveDapps, domains)
}

// RemoveActiveDomain drops domain from the active set. Removing an
// absent domain is a no-op, not an error.
func (s *Service) RemoveActiveDomain(ctx context.Context, domain string) error {
	domains, err := s.ActiveDomains(ctx)
	if err != nil {
		return err
	}

	filtered := make([]string, 0, len(domains))
	for _, d := range domains {
		if d != domain {
			filtered = append(filtered, d)
		}
	}
	return s.SetActiveDomains(ctx, filtered)
}

// StageDapps writes the connect/transfer popup seed.
func (s *Service) StageDapps(ctx context.Context, payload *types.DappsPayload) error {
	return s.setJSON(ctx, KeyDapps, payload)
}

// StageSignedCmd writes the signing-confirmation popup seed.
func (s *Service) StageSignedCmd(ctx context.Context, payload *types.SignedCmdPayload) error {
	return s.setJSON(ctx, KeySignedCmd, payload)
}

// StagedSignedCmd reads back the signing popup seed, nil when the slot
// is clear.
func (s *Service) StagedSignedCmd(ctx context.Context) (*types.SignedCmdPayload, error) {
	var payload *types.SignedCmdPayload
	if _, err := s.getJSON(ctx, KeySignedCmd, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// StagedDapps reads back the connect/transfer popup seed, nil when the
// slot is clear.
func (s *Service) StagedDapps(ctx context.Context) (*types.DappsPayload, error) {
	var payload *types.DappsPayload
	if _, err := s.getJSON(ctx, KeyDapps, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ResetTransient clears the per-browsing-session state on startup:
// session expiry, active domains and any staged popup payloads.
func (s *Service) ResetTransient(ctx context.Context) error {
	if err := s.store.Set(ctx, KeyExpiredTime, jsonNull); err != nil {
		return err
	}
	if err := s.SetActiveDomains(ctx, []string{}); err != nil {
		return err
	}
	if err := s.store.Set(ctx, KeyDapps, jsonNull); err != nil {
		return err
	}
	return s.store.Set(ctx, KeySignedCmd, jsonNull)
}

func (s *Service) storedWallet(ctx context.Context) (*types.StoredWallet, error) {
	var stored *types.StoredWallet
	ok, err := s.getJSON(ctx, KeySelectedWallet, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored, nil
}

func (s *Service) accountPassword(ctx context.Context) (string, error) {
	var password string
	if _, err := s.getJSON(ctx, KeyAccountPassword, &password); err != nil {
		return "", err
	}
	return password, nil
}

func (s *Service) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Service) setJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.store.Set(ctx, key, raw)
}
