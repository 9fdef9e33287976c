package engine

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/kda-wallet/bridge/internal/pact"
	"github.com/kda-wallet/bridge/internal/popup"
	"github.com/kda-wallet/bridge/internal/session"
	"github.com/kda-wallet/bridge/pkg/types"
)

type broadcastCall struct {
	env   types.ResponseEnvelope
	tabID int
}

type fakeBroadcaster struct {
	calls []broadcastCall
}

func (b *fakeBroadcaster) Broadcast(ctx context.Context, msg any, tabID int) {
	b.calls = append(b.calls, broadcastCall{env: msg.(types.ResponseEnvelope), tabID: tabID})
}

type fakeChain struct {
	balance float64
	err     error

	gotAccount string
	gotChainID string
}

func (c *fakeChain) AccountBalance(ctx context.Context, account string, network types.Network, chainID string) (float64, error) {
	c.gotAccount = account
	c.gotChainID = chainID
	return c.balance, c.err
}

type popupCall struct {
	kind   popup.Kind
	dapps  *types.DappsPayload
	signed *types.SignedCmdPayload
}

type fakePopups struct {
	calls []popupCall
}

func (p *fakePopups) OpenDapps(ctx context.Context, kind popup.Kind, payload *types.DappsPayload) error {
	p.calls = append(p.calls, popupCall{kind: kind, dapps: payload})
	return nil
}

func (p *fakePopups) OpenSignedCmd(ctx context.Context, payload *types.SignedCmdPayload) error {
	p.calls = append(p.calls, popupCall{kind: popup.KindSignedCmd, signed: payload})
	return nil
}

func testDecrypt(ciphertext, password string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("invalid password")
	}
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

// testIdentity is a deterministic ed25519 identity for signing tests.
func testIdentity(t *testing.T) (publicHex, seedHex, fullHex string) {
	t.Helper()

	seed := []byte(strings.Repeat("k", ed25519.SeedSize))
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	return hex.EncodeToString(pub), hex.EncodeToString(seed), hex.EncodeToString(priv)
}

type fixture struct {
	engine  *Engine
	session *session.Service
	chain   *fakeChain
	popups  *fakePopups
	bc      *fakeBroadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sess := session.NewService(session.NewMemoryStore(), testDecrypt)
	chain := &fakeChain{}
	popups := &fakePopups{}
	bc := &fakeBroadcaster{}

	eng := New(sess, chain, pact.NewSigner(), popups, bc)
	eng.now = func() time.Time { return time.Date(2023, 11, 14, 12, 0, 0, 0, time.UTC) }

	return &fixture{engine: eng, session: sess, chain: chain, popups: popups, bc: bc}
}

func (f *fixture) seedNetwork(t *testing.T, networkID string) {
	t.Helper()
	require.NoError(t, f.session.SetSelectedNetwork(context.Background(),
		&types.Network{NetworkID: networkID, URL: "http://node.example"}))
}

func (f *fixture) seedWallet(t *testing.T, secretKey string, connectedSites ...string) {
	t.Helper()
	ctx := context.Background()
	publicHex, _, _ := testIdentity(t)

	require.NoError(t, f.session.SetAccountPassword(ctx, "pw"))
	require.NoError(t, f.session.SetSelectedWallet(ctx, &types.StoredWallet{
		ChainID:        "1",
		Account:        "enc:k:alice",
		PublicKey:      "enc:" + publicHex,
		SecretKey:      "enc:" + secretKey,
		ConnectedSites: connectedSites,
	}))
}

func (f *fixture) activate(t *testing.T, domains ...string) {
	t.Helper()
	require.NoError(t, f.session.SetActiveDomains(context.Background(), domains))
}

func (f *fixture) lastBroadcast(t *testing.T) broadcastCall {
	t.Helper()
	require.NotEmpty(t, f.bc.calls)
	return f.bc.calls[len(f.bc.calls)-1]
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid network fails straight back to the tab", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "mainnet01")

		f.engine.Connect(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 5)

		require.Len(t, f.bc.calls, 1)
		call := f.bc.calls[0]
		assert.Equal(t, types.ResCheckStatus, call.env.Action)
		assert.Equal(t, types.StatusFail, call.env.Result.Status)
		assert.Equal(t, "Network invalid", call.env.Result.Message)
		assert.Equal(t, 5, call.env.TabID)
		assert.Equal(t, 5, call.tabID)
		assert.Empty(t, f.popups.calls)
	})

	t.Run("connected and active succeeds without a popup", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "", "dapp.example")
		f.activate(t, "dapp.example")

		f.engine.Connect(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 5)

		require.Len(t, f.bc.calls, 1)
		call := f.bc.calls[0]
		assert.Equal(t, types.ResCheckStatus, call.env.Action)
		assert.Equal(t, types.StatusSuccess, call.env.Result.Status)
		assert.Equal(t, "Connected successfully", call.env.Result.Message)
		require.NotNil(t, call.env.Result.Account)
		assert.Equal(t, "k:alice", call.env.Result.Account.Account)
		assert.Zero(t, call.tabID)
		assert.Empty(t, f.popups.calls)
	})

	t.Run("connected but inactive re-confirms through the sign popup", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "", "dapp.example")

		f.engine.Connect(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example", Icon: "icon.png"}, 5)

		assert.Empty(t, f.bc.calls)
		require.Len(t, f.popups.calls, 1)
		call := f.popups.calls[0]
		assert.Equal(t, popup.KindSignDapps, call.kind)
		require.NotNil(t, call.dapps)
		assert.Equal(t, "dapp.example", call.dapps.Domain)
		assert.Equal(t, "icon.png", call.dapps.Icon)
		assert.Equal(t, 5, call.dapps.TabID)
	})

	t.Run("unknown domain goes through the connect popup", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "")

		f.engine.Connect(ctx, types.RequestData{NetworkID: "testnet04", Domain: "new.example"}, 7)

		assert.Empty(t, f.bc.calls)
		require.Len(t, f.popups.calls, 1)
		assert.Equal(t, popup.KindConnectedDapps, f.popups.calls[0].kind)
		assert.Equal(t, 7, f.popups.calls[0].dapps.TabID)
	})
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes the session grant and confirms", func(t *testing.T) {
		f := newFixture(t)
		f.activate(t, "dapp.example", "other.example")

		f.engine.Disconnect(ctx, types.RequestData{Domain: "dapp.example"}, 4)

		domains, err := f.session.ActiveDomains(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"other.example"}, domains)

		call := f.lastBroadcast(t)
		assert.Equal(t, types.ResDisconnect, call.env.Action)
		assert.Equal(t, types.StatusSuccess, call.env.Result.Status)
		assert.Equal(t, "Disconnected", call.env.Result.Message)
		assert.Equal(t, 4, call.env.TabID)
		assert.Equal(t, 4, call.tabID)
	})

	t.Run("disconnecting an unconnected domain still succeeds", func(t *testing.T) {
		f := newFixture(t)

		f.engine.Disconnect(ctx, types.RequestData{Domain: "never.example"}, 4)
		f.engine.Disconnect(ctx, types.RequestData{Domain: "never.example"}, 4)

		require.Len(t, f.bc.calls, 2)
		for _, call := range f.bc.calls {
			assert.Equal(t, types.StatusSuccess, call.env.Result.Status)
		}
	})
}

func TestCheckStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("network mismatch reports invalid network", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "mainnet01")
		f.seedWallet(t, "", "dapp.example")
		f.activate(t, "dapp.example")

		f.engine.CheckStatus(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 3)

		require.Len(t, f.bc.calls, 1)
		call := f.bc.calls[0]
		assert.Equal(t, types.ResCheckStatus, call.env.Action)
		assert.Equal(t, types.StatusFail, call.env.Result.Status)
		assert.Equal(t, "Invalid network", call.env.Result.Message)
		assert.Zero(t, call.tabID)
	})

	t.Run("persistent permission without a session grant is not connected", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "", "dapp.example")

		f.engine.CheckStatus(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 3)

		call := f.lastBroadcast(t)
		assert.Equal(t, types.StatusFail, call.env.Result.Status)
		assert.Equal(t, "Not connected", call.env.Result.Message)
	})

	t.Run("session grant without persistent permission is not connected", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "")
		f.activate(t, "dapp.example")

		f.engine.CheckStatus(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 3)

		call := f.lastBroadcast(t)
		assert.Equal(t, "Not connected", call.env.Result.Message)
	})

	t.Run("both grants report connected with the account", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "", "dapp.example")
		f.activate(t, "dapp.example")

		f.engine.CheckStatus(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 3)

		call := f.lastBroadcast(t)
		assert.Equal(t, types.StatusSuccess, call.env.Result.Status)
		assert.Equal(t, "Connected successfully", call.env.Result.Message)
		require.NotNil(t, call.env.Result.Account)
		assert.Equal(t, "k:alice", call.env.Result.Account.Account)
		assert.Empty(t, call.env.Result.Account.SecretKey)
		assert.Zero(t, call.tabID)
	})
}

func TestRequestAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("any failed gate answers with the same message", func(t *testing.T) {
		badNetwork := newFixture(t)
		badNetwork.seedNetwork(t, "mainnet01")
		badNetwork.engine.RequestAccount(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 2)

		notConnected := newFixture(t)
		notConnected.seedNetwork(t, "testnet04")
		notConnected.seedWallet(t, "")
		notConnected.engine.RequestAccount(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 2)

		for _, f := range []*fixture{badNetwork, notConnected} {
			call := f.lastBroadcast(t)
			assert.Equal(t, types.ResRequestAccount, call.env.Action)
			assert.Equal(t, types.StatusFail, call.env.Result.Status)
			assert.Equal(t, "Please connect with a wallet", call.env.Result.Message)
			assert.Equal(t, 2, call.env.TabID)
			assert.Equal(t, 2, call.tabID)
		}
	})

	t.Run("returns the wallet with its live balance", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "", "dapp.example")
		f.activate(t, "dapp.example")
		f.chain.balance = 12.5

		f.engine.RequestAccount(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 2)

		call := f.lastBroadcast(t)
		assert.Equal(t, types.StatusSuccess, call.env.Result.Status)
		assert.Equal(t, "Get account information successfully", call.env.Result.Message)
		require.NotNil(t, call.env.Result.Wallet)
		require.NotNil(t, call.env.Result.Wallet.Balance)
		assert.Equal(t, 12.5, *call.env.Result.Wallet.Balance)
		assert.Equal(t, "k:alice", f.chain.gotAccount)
		assert.Equal(t, "1", f.chain.gotChainID)
		assert.Empty(t, call.env.Result.Wallet.SecretKey)
	})

	t.Run("a failed balance lookup degrades to zero", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "", "dapp.example")
		f.activate(t, "dapp.example")
		f.chain.err = errors.New("node unreachable")

		f.engine.RequestAccount(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 2)

		call := f.lastBroadcast(t)
		assert.Equal(t, types.StatusSuccess, call.env.Result.Status)
		require.NotNil(t, call.env.Result.Wallet.Balance)
		assert.Zero(t, *call.env.Result.Wallet.Balance)
	})
}

func TestRequestSign(t *testing.T) {
	ctx := context.Background()

	signingCmd := func(networkID string) *types.SigningCmd {
		return &types.SigningCmd{
			Sender:    "k:alice",
			ChainID:   json.Number("1"),
			GasPrice:  0.00001,
			GasLimit:  2500,
			TTL:       600,
			PactCode:  `(coin.transfer "k:alice" "k:bob" 1.0)`,
			NetworkID: networkID,
			Caps: []types.DappCap{{
				Role: "transfer",
				Cap:  types.Cap{Name: "coin.TRANSFER", Args: []any{"k:alice", "k:bob", 1.0}},
			}},
		}
	}

	t.Run("failed gates defer to the status taxonomy", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "mainnet01")

		f.engine.RequestSign(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example", SigningCmd: signingCmd("testnet04")}, 6)

		require.Len(t, f.bc.calls, 1)
		call := f.bc.calls[0]
		assert.Equal(t, types.ResCheckStatus, call.env.Action)
		assert.Equal(t, "Invalid network", call.env.Result.Message)
		assert.Empty(t, f.popups.calls)
	})

	t.Run("a missing signing command fails exactly once and stages nothing", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "", "dapp.example")
		f.activate(t, "dapp.example")

		f.engine.RequestSign(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 6)

		require.Len(t, f.bc.calls, 1)
		call := f.bc.calls[0]
		assert.Equal(t, types.ResRequestSign, call.env.Action)
		assert.Equal(t, types.StatusFail, call.env.Result.Status)
		assert.Equal(t, "Fail to get signedCmd", call.env.Result.Message)
		assert.Zero(t, call.tabID)

		assert.Empty(t, f.popups.calls)
		staged, err := f.session.StagedSignedCmd(ctx)
		require.NoError(t, err)
		assert.Nil(t, staged)
	})

	t.Run("a broken secret key fails with the same single response", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, strings.Repeat("zz", 32), "dapp.example")
		f.activate(t, "dapp.example")

		f.engine.RequestSign(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example", SigningCmd: signingCmd("testnet04")}, 6)

		require.Len(t, f.bc.calls, 1)
		assert.Equal(t, "Fail to get signedCmd", f.bc.calls[0].env.Result.Message)
		assert.Empty(t, f.popups.calls)
	})

	t.Run("a local seed signs inline and opens the confirmation popup", func(t *testing.T) {
		f := newFixture(t)
		publicHex, seedHex, _ := testIdentity(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, seedHex, "dapp.example")
		f.activate(t, "dapp.example")

		f.engine.RequestSign(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example", SigningCmd: signingCmd("testnet04")}, 6)

		assert.Empty(t, f.bc.calls)
		require.Len(t, f.popups.calls, 1)
		payload := f.popups.calls[0].signed
		require.NotNil(t, payload)
		assert.Equal(t, "dapp.example", payload.Domain)
		assert.Equal(t, 6, payload.TabID)

		cmd := payload.Cmd
		require.NotNil(t, cmd)
		require.Len(t, cmd.Sigs, 1)
		require.NotNil(t, cmd.Sigs[0].Sig)

		digest := blake2b.Sum256([]byte(cmd.Cmd))
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(digest[:]), cmd.Hash)

		sig, err := hex.DecodeString(*cmd.Sigs[0].Sig)
		require.NoError(t, err)
		pub, err := hex.DecodeString(publicHex)
		require.NoError(t, err)
		assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig))
	})

	t.Run("an external private key signs over the finished hash", func(t *testing.T) {
		f := newFixture(t)
		publicHex, _, fullHex := testIdentity(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, fullHex, "dapp.example")
		f.activate(t, "dapp.example")

		f.engine.RequestSign(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example", SigningCmd: signingCmd("testnet04")}, 6)

		require.Len(t, f.popups.calls, 1)
		cmd := f.popups.calls[0].signed.Cmd
		require.Len(t, cmd.Sigs, 1)
		require.NotNil(t, cmd.Sigs[0].Sig)

		digest, err := base64.RawURLEncoding.DecodeString(cmd.Hash)
		require.NoError(t, err)
		sig, err := hex.DecodeString(*cmd.Sigs[0].Sig)
		require.NoError(t, err)
		pub, err := hex.DecodeString(publicHex)
		require.NoError(t, err)
		assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), digest, sig))
	})

	t.Run("requested capabilities reach the signer list", func(t *testing.T) {
		f := newFixture(t)
		_, seedHex, _ := testIdentity(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, seedHex, "dapp.example")
		f.activate(t, "dapp.example")

		f.engine.RequestSign(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example", SigningCmd: signingCmd("testnet04")}, 6)

		require.Len(t, f.popups.calls, 1)
		var parsed struct {
			Signers []struct {
				Clist []types.Cap `json:"clist"`
			} `json:"signers"`
		}
		require.NoError(t, json.Unmarshal([]byte(f.popups.calls[0].signed.Cmd.Cmd), &parsed))
		require.Len(t, parsed.Signers, 1)
		require.Len(t, parsed.Signers[0].Clist, 1)
		assert.Equal(t, "coin.TRANSFER", parsed.Signers[0].Clist[0].Name)
	})
}

func TestSendKadena(t *testing.T) {
	ctx := context.Background()

	t.Run("stages the transfer and opens the confirmation popup", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "", "dapp.example")
		f.activate(t, "dapp.example")

		f.engine.SendKadena(ctx, types.RequestData{
			NetworkID: "testnet04",
			Domain:    "dapp.example",
			ChainID:   "1",
			Account:   "k:bob",
			Amount:    2.5,
		}, 8)

		assert.Empty(t, f.bc.calls)
		require.Len(t, f.popups.calls, 1)
		call := f.popups.calls[0]
		assert.Equal(t, popup.KindDappsTransfer, call.kind)
		require.NotNil(t, call.dapps)
		assert.Equal(t, "1", call.dapps.ChainID)
		assert.Equal(t, "k:bob", call.dapps.Account)
		assert.Equal(t, 2.5, call.dapps.Amount)
		assert.Zero(t, call.dapps.TabID)
	})

	t.Run("failed gates defer to the status taxonomy", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "testnet04")
		f.seedWallet(t, "")

		f.engine.SendKadena(ctx, types.RequestData{NetworkID: "testnet04", Domain: "dapp.example"}, 8)

		call := f.lastBroadcast(t)
		assert.Equal(t, types.ResCheckStatus, call.env.Action)
		assert.Equal(t, "Not connected", call.env.Result.Message)
		assert.Empty(t, f.popups.calls)
	})
}

func TestReadOnlyOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("getNetwork stays silent without a selection", func(t *testing.T) {
		f := newFixture(t)

		f.engine.GetNetwork(ctx)

		assert.Empty(t, f.bc.calls)
	})

	t.Run("getNetwork replies with the selected network", func(t *testing.T) {
		f := newFixture(t)
		f.seedNetwork(t, "mainnet01")

		f.engine.GetNetwork(ctx)

		call := f.lastBroadcast(t)
		assert.Equal(t, types.ResGetNetwork, call.env.Action)
		require.NotNil(t, call.env.Network)
		assert.Equal(t, "mainnet01", call.env.Network.NetworkID)
		assert.Zero(t, call.tabID)
	})

	t.Run("getChain replies with the wallet's chain", func(t *testing.T) {
		f := newFixture(t)
		f.seedWallet(t, "")

		f.engine.GetChain(ctx)

		call := f.lastBroadcast(t)
		assert.Equal(t, types.ResGetChain, call.env.Action)
		assert.Equal(t, "1", call.env.ChainID)
	})

	t.Run("getSelectedAccount never carries the secret key", func(t *testing.T) {
		f := newFixture(t)
		publicHex, _, _ := testIdentity(t)
		f.seedWallet(t, "topsecret")

		f.engine.GetSelectedAccount(ctx)

		call := f.lastBroadcast(t)
		assert.Equal(t, types.ResGetSelectedAccount, call.env.Action)
		require.NotNil(t, call.env.SelectedAccount)
		assert.Equal(t, "k:alice", call.env.SelectedAccount.Account)
		assert.Equal(t, publicHex, call.env.SelectedAccount.PublicKey)
	})
}
