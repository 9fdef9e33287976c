// Package engine implements the connection/session authorization core.
// Every state-reading or state-changing request funnels through the
// same two gates, network validity and connection validity, and every
// negative outcome collapses into the same three-state taxonomy:
// invalid network, not connected, ok.
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/kda-wallet/bridge/internal/logger"
	"github.com/kda-wallet/bridge/internal/pact"
	"github.com/kda-wallet/bridge/internal/popup"
	"github.com/kda-wallet/bridge/internal/session"
	apperrors "github.com/kda-wallet/bridge/pkg/errors"
	"github.com/kda-wallet/bridge/pkg/types"
)

// Wire-visible status messages. dApps match on these strings.
const (
	msgConnected       = "Connected successfully"
	msgNetworkInvalid  = "Network invalid"
	msgDisconnected    = "Disconnected"
	msgAccountFetched  = "Get account information successfully"
	msgWalletNotLinked = "Please connect with a wallet"
)

// ChainClient fetches account state from a Chainweb node.
type ChainClient interface {
	AccountBalance(ctx context.Context, account string, network types.Network, chainID string) (float64, error)
}

// Signer builds and signs Pact commands.
type Signer interface {
	PrepareExecCmd(keyPairs []pact.KeyPair, nonce, code string, envData any, meta pact.Meta, networkID string) (*types.SignedCmd, error)
	SignHash(hash, secretKey string) (string, error)
}

// PopupPresenter stages consent-required requests into popup surfaces.
type PopupPresenter interface {
	OpenDapps(ctx context.Context, kind popup.Kind, payload *types.DappsPayload) error
	OpenSignedCmd(ctx context.Context, payload *types.SignedCmdPayload) error
}

// Broadcaster delivers response envelopes to content-script channels.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg any, tabID int)
}

// Engine is the authorization core. All collaborators are injected.
type Engine struct {
	session     *session.Service
	chain       ChainClient
	signer      Signer
	popups      PopupPresenter
	broadcaster Broadcaster
	now         func() time.Time
}

// New creates an engine.
func New(sess *session.Service, chain ChainClient, signer Signer, popups PopupPresenter, broadcaster Broadcaster) *Engine {
	return &Engine{
		session:     sess,
		chain:       chain,
		signer:      signer,
		popups:      popups,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// IsNetworkValid reports whether the declared network matches the
// selected network. The first gate on every operation.
func (e *Engine) IsNetworkValid(ctx context.Context, networkID string) (bool, error) {
	network, err := e.session.SelectedNetwork(ctx)
	if err != nil {
		return false, err
	}
	return network != nil && network.NetworkID == networkID, nil
}

// IsConnectionValid reports whether domain holds both persistent
// permission and a live session grant. Persistent consent alone is
// insufficient.
func (e *Engine) IsConnectionValid(ctx context.Context, domain string) (bool, error) {
	wallet, err := e.session.SelectedWallet(ctx, false)
	if err != nil {
		return false, err
	}
	if !wallet.IsConnectedTo(domain) {
		return false, nil
	}

	active, err := e.session.ActiveDomains(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range active {
		if d == domain {
			return true, nil
		}
	}
	return false, nil
}

// Connect handles kda_connect. An invalid network fails immediately; a
// domain that is connected but not active always goes through the
// re-confirmation popup, never straight to success.
func (e *Engine) Connect(ctx context.Context, data types.RequestData, tabID int) {
	valid, err := e.IsNetworkValid(ctx, data.NetworkID)
	if err != nil {
		logger.Error(ctx, "connect: network check failed", "error", err)
		return
	}
	if !valid {
		e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
			Target: types.TargetContent,
			Action: types.ResCheckStatus,
			Result: failResult(msgNetworkInvalid),
			TabID:  tabID,
		}, tabID)
		return
	}

	wallet, err := e.session.SelectedWallet(ctx, false)
	if err != nil {
		logger.Error(ctx, "connect: wallet load failed", "error", err)
		return
	}
	active, err := e.session.ActiveDomains(ctx)
	if err != nil {
		logger.Error(ctx, "connect: active domains load failed", "error", err)
		return
	}

	if wallet.IsConnectedTo(data.Domain) {
		if containsDomain(active, data.Domain) {
			e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
				Target: types.TargetContent,
				Action: types.ResCheckStatus,
				Result: successResultWithAccount(msgConnected, wallet),
			}, 0)
			return
		}
		e.openConnectPopup(ctx, popup.KindSignDapps, data, tabID)
		return
	}

	e.openConnectPopup(ctx, popup.KindConnectedDapps, data, tabID)
}

func (e *Engine) openConnectPopup(ctx context.Context, kind popup.Kind, data types.RequestData, tabID int) {
	payload := &types.DappsPayload{
		NetworkID: data.NetworkID,
		Domain:    data.Domain,
		Icon:      data.Icon,
		TabID:     tabID,
	}
	if err := e.popups.OpenDapps(ctx, kind, payload); err != nil {
		logger.Error(ctx, "connect: popup open failed", "kind", string(kind), "error", err)
	}
}

// Disconnect removes domain from the active set. Persistent permission
// stays untouched, and removing an absent domain still succeeds.
func (e *Engine) Disconnect(ctx context.Context, data types.RequestData, tabID int) {
	if err := e.session.RemoveActiveDomain(ctx, data.Domain); err != nil {
		logger.Error(ctx, "disconnect failed", "domain", data.Domain, "error", err)
		return
	}
	e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
		Target: types.TargetContent,
		Action: types.ResDisconnect,
		Result: successResult(msgDisconnected),
		TabID:  tabID,
	}, tabID)
}

// RequestAccount replies with the wallet plus a live balance. Both
// invalidity cases answer with the same message on purpose: the caller
// learns nothing about which gate failed.
func (e *Engine) RequestAccount(ctx context.Context, data types.RequestData, tabID int) {
	ok, err := e.gates(ctx, data)
	if err != nil {
		logger.Error(ctx, "requestAccount: gate check failed", "error", err)
		return
	}
	if !ok {
		e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
			Target: types.TargetContent,
			Action: types.ResRequestAccount,
			Result: failResult(msgWalletNotLinked),
			TabID:  tabID,
		}, tabID)
		return
	}

	wallet, err := e.session.SelectedWallet(ctx, false)
	if err != nil {
		logger.Error(ctx, "requestAccount: wallet load failed", "error", err)
		return
	}

	// A failed or impossible balance lookup degrades to zero; the
	// request itself still succeeds.
	balance := 0.0
	if network, err := e.session.SelectedNetwork(ctx); err == nil && network != nil {
		if b, err := e.chain.AccountBalance(ctx, wallet.Account, *network, wallet.ChainID); err == nil {
			balance = b
		} else {
			logger.Debug(ctx, "balance lookup failed", "account", wallet.Account, "error", err)
		}
	}
	wallet.Balance = &balance

	e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
		Target: types.TargetContent,
		Action: types.ResRequestAccount,
		Result: &types.Result{
			Status:  types.StatusSuccess,
			Message: msgAccountFetched,
			Wallet:  wallet,
		},
		TabID: tabID,
	}, tabID)
}

// RequestSign builds and signs the requested command, stages it and
// opens the signing confirmation popup. Failed gates defer to the
// CheckStatus taxonomy; a failed build produces exactly one failure
// response and stages nothing.
func (e *Engine) RequestSign(ctx context.Context, data types.RequestData, tabID int) {
	ok, err := e.gates(ctx, data)
	if err != nil {
		logger.Error(ctx, "requestSign: gate check failed", "error", err)
		return
	}
	if !ok {
		e.CheckStatus(ctx, data, tabID)
		return
	}

	signedCmd, err := e.buildSignedCmd(ctx, data)
	if err != nil {
		logger.Warn(ctx, "requestSign: command build failed", "error", apperrors.SignerFailure(err))
		e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
			Target: types.TargetContent,
			Action: types.ResRequestSign,
			Result: failResult(apperrors.ErrSignerFailure.Message),
		}, 0)
		return
	}

	payload := &types.SignedCmdPayload{
		NetworkID: data.NetworkID,
		Domain:    data.Domain,
		Icon:      data.Icon,
		Cmd:       signedCmd,
		TabID:     tabID,
	}
	if err := e.popups.OpenSignedCmd(ctx, payload); err != nil {
		logger.Error(ctx, "requestSign: popup open failed", "error", err)
	}
}

func (e *Engine) buildSignedCmd(ctx context.Context, data types.RequestData) (*types.SignedCmd, error) {
	if data.SigningCmd == nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeSignerFailure,
			apperrors.ErrSignerFailure.Message, "missing signingCmd")
	}
	sc := data.SigningCmd

	wallet, err := e.session.SelectedWallet(ctx, true)
	if err != nil {
		return nil, err
	}

	meta := pact.MkMeta(sc.Sender, sc.ChainID.String(), sc.GasPrice, sc.GasLimit, e.now().Unix(), sc.TTL)

	kp := pact.NewKeyPair(wallet.PublicKey, wallet.SecretKey)
	for _, c := range sc.Caps {
		kp.Clist = append(kp.Clist, c.Cap)
	}

	nonce := strconv.Quote(e.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	signedCmd, err := e.signer.PrepareExecCmd([]pact.KeyPair{kp}, nonce, sc.PactCode, sc.EnvData, meta, sc.NetworkID)
	if err != nil {
		return nil, err
	}

	// External keypairs sign detached, over the finished hash.
	if kp.Kind() == pact.KeyExternal {
		sig, err := e.signer.SignHash(signedCmd.Hash, wallet.SecretKey)
		if err != nil {
			return nil, err
		}
		signedCmd.Sigs = []types.UserSig{{Sig: &sig}}
	}

	return signedCmd, nil
}

// SendKadena stages a transfer descriptor and opens the transfer
// confirmation popup. Failed gates defer to the CheckStatus taxonomy.
func (e *Engine) SendKadena(ctx context.Context, data types.RequestData, tabID int) {
	ok, err := e.gates(ctx, data)
	if err != nil {
		logger.Error(ctx, "sendKadena: gate check failed", "error", err)
		return
	}
	if !ok {
		e.CheckStatus(ctx, data, tabID)
		return
	}

	payload := &types.DappsPayload{
		NetworkID: data.NetworkID,
		Domain:    data.Domain,
		ChainID:   data.ChainID,
		Account:   data.Account,
		Amount:    data.Amount,
	}
	if err := e.popups.OpenDapps(ctx, popup.KindDappsTransfer, payload); err != nil {
		logger.Error(ctx, "sendKadena: popup open failed", "error", err)
	}
}

// CheckStatus is the canonical three-way status probe, used directly
// and as the fallback for other operations' negative branches.
func (e *Engine) CheckStatus(ctx context.Context, data types.RequestData, tabID int) {
	networkValid, err := e.IsNetworkValid(ctx, data.NetworkID)
	if err != nil {
		logger.Error(ctx, "checkStatus: network check failed", "error", err)
		return
	}
	if !networkValid {
		e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
			Target: types.TargetContent,
			Action: types.ResCheckStatus,
			Result: failResult(apperrors.ErrInvalidNetwork.Message),
		}, 0)
		return
	}

	connectionValid, err := e.IsConnectionValid(ctx, data.Domain)
	if err != nil {
		logger.Error(ctx, "checkStatus: connection check failed", "error", err)
		return
	}
	if !connectionValid {
		e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
			Target: types.TargetContent,
			Action: types.ResCheckStatus,
			Result: failResult(apperrors.ErrNotConnected.Message),
		}, 0)
		return
	}

	wallet, err := e.session.SelectedWallet(ctx, false)
	if err != nil {
		logger.Error(ctx, "checkStatus: wallet load failed", "error", err)
		return
	}
	e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
		Target: types.TargetContent,
		Action: types.ResCheckStatus,
		Result: successResultWithAccount(msgConnected, wallet),
	}, 0)
}

// GetNetwork replies with the selected network. Stays silent when no
// network is selected.
func (e *Engine) GetNetwork(ctx context.Context) {
	network, err := e.session.SelectedNetwork(ctx)
	if err != nil {
		logger.Error(ctx, "getNetwork failed", "error", err)
		return
	}
	if network == nil {
		return
	}
	e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
		Target:  types.TargetContent,
		Action:  types.ResGetNetwork,
		Network: network,
	}, 0)
}

// GetChain replies with the selected wallet's chain id.
func (e *Engine) GetChain(ctx context.Context) {
	chainID, err := e.session.SelectedChainID(ctx)
	if err != nil {
		logger.Error(ctx, "getChain failed", "error", err)
		return
	}
	e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
		Target:  types.TargetContent,
		Action:  types.ResGetChain,
		ChainID: chainID,
	}, 0)
}

// GetSelectedAccount replies with the decrypted account identity. The
// secret key never leaves the store on this path.
func (e *Engine) GetSelectedAccount(ctx context.Context) {
	wallet, err := e.session.SelectedWallet(ctx, false)
	if err != nil {
		logger.Error(ctx, "getSelectedAccount failed", "error", err)
		return
	}
	e.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
		Target: types.TargetContent,
		Action: types.ResGetSelectedAccount,
		SelectedAccount: &types.SelectedAccount{
			ChainID:   wallet.ChainID,
			Account:   wallet.Account,
			PublicKey: wallet.PublicKey,
		},
	}, 0)
}

// gates runs the two authorization gates in order.
func (e *Engine) gates(ctx context.Context, data types.RequestData) (bool, error) {
	networkValid, err := e.IsNetworkValid(ctx, data.NetworkID)
	if err != nil || !networkValid {
		return false, err
	}
	return e.IsConnectionValid(ctx, data.Domain)
}

func containsDomain(domains []string, domain string) bool {
	for _, d := range domains {
		if d == domain {
			return true
		}
	}
	return false
}

func successResult(message string) *types.Result {
	return &types.Result{Status: types.StatusSuccess, Message: message}
}

func successResultWithAccount(message string, account *types.Wallet) *types.Result {
	return &types.Result{Status: types.StatusSuccess, Message: message, Account: account}
}

func failResult(message string) *types.Result {
	return &types.Result{Status: types.StatusFail, Message: message}
}
