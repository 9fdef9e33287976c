// Package types defines the wire-level data model shared between the
// background bridge, content-script channels and popup surfaces.
package types

import "encoding/json"

// Action identifies an inbound dApp request. The set is closed: the
// dispatcher matches exhaustively and drops anything else.
type Action string

const (
	ActionConnect            Action = "kda_connect"
	ActionDisconnect         Action = "kda_disconnect"
	ActionRequestAccount     Action = "kda_requestAccount"
	ActionGetNetwork         Action = "kda_getNetwork"
	ActionGetChain           Action = "kda_getChain"
	ActionGetSelectedAccount Action = "kda_getSelectedAccount"
	ActionSendKadena         Action = "kda_sendKadena"
	ActionRequestSign        Action = "kda_requestSign"
	ActionCheckStatus        Action = "kda_checkStatus"
)

// Response actions, prefixed "res_", plus the surface sync signal.
const (
	ResCheckStatus        Action = "res_checkStatus"
	ResDisconnect         Action = "res_disconnect"
	ResRequestSign        Action = "res_requestSign"
	ResGetNetwork         Action = "res_getNetwork"
	ResGetChain           Action = "res_getChain"
	ResGetSelectedAccount Action = "res_getSelectedAccount"
	ResRequestAccount     Action = "res_requestAccount"
	ResAccountChange      Action = "res_accountChange"
	ActionSyncData        Action = "sync_data"
)

// Message targets.
const (
	TargetBackground = "kda.background"
	TargetContent    = "kda.content"
	TargetExtension  = "kda.extension"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// Network is the currently selected Chainweb network.
type Network struct {
	NetworkID string `json:"networkId"`
	URL       string `json:"url"`
}

// Wallet is the selected wallet with its identity material decrypted.
// SecretKey is populated only when an operation explicitly requires
// signing capability.
type Wallet struct {
	ChainID        string   `json:"chainId"`
	Account        string   `json:"account"`
	PublicKey      string   `json:"publicKey"`
	SecretKey      string   `json:"secretKey,omitempty"`
	ConnectedSites []string `json:"connectedSites"`
	Balance        *float64 `json:"balance,omitempty"`
}

// IsConnectedTo reports whether the wallet has granted persistent
// permission to domain.
func (w *Wallet) IsConnectedTo(domain string) bool {
	for _, site := range w.ConnectedSites {
		if site == domain {
			return true
		}
	}
	return false
}

// StoredWallet is the at-rest form of the selected wallet. Account,
// PublicKey and SecretKey are ciphertext under the session password.
type StoredWallet struct {
	ChainID        string   `json:"chainId"`
	Account        string   `json:"account"`
	PublicKey      string   `json:"publicKey"`
	SecretKey      string   `json:"secretKey,omitempty"`
	ConnectedSites []string `json:"connectedSites"`
}

// SelectedAccount is the reduced view returned by kda_getSelectedAccount.
type SelectedAccount struct {
	ChainID   string `json:"chainId"`
	Account   string `json:"account"`
	PublicKey string `json:"publicKey"`
}

// Cap is a single Pact capability.
type Cap struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

// DappCap wraps a capability the way signing requests declare them:
// display metadata around an inner cap. Only the inner cap enters the
// signer's capability list.
type DappCap struct {
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
	Cap         Cap    `json:"cap"`
}

// SigningCmd is the transaction intent carried by kda_requestSign.
// ChainID arrives as either a number or a string depending on the dApp.
type SigningCmd struct {
	Sender    string      `json:"sender"`
	ChainID   json.Number `json:"chainId"`
	GasPrice  float64     `json:"gasPrice"`
	GasLimit  uint64      `json:"gasLimit"`
	TTL       int64       `json:"ttl"`
	Caps      []DappCap   `json:"caps,omitempty"`
	PactCode  string      `json:"pactCode"`
	EnvData   any         `json:"envData,omitempty"`
	NetworkID string      `json:"networkId"`
}

// RequestData is the data member of an inbound envelope. Fields beyond
// domain and networkId are action-specific.
type RequestData struct {
	NetworkID  string      `json:"networkId,omitempty"`
	Domain     string      `json:"domain,omitempty"`
	Icon       string      `json:"icon,omitempty"`
	ChainID    string      `json:"chainId,omitempty"`
	Account    string      `json:"account,omitempty"`
	Amount     float64     `json:"amount,omitempty"`
	SigningCmd *SigningCmd `json:"signingCmd,omitempty"`
}

// RequestEnvelope is an inbound message from a content-script channel.
// TabID on the wire is honored only by the one-shot relay path; channel
// requests always take the tab identity from the channel itself.
type RequestEnvelope struct {
	Target string      `json:"target,omitempty"`
	Action Action      `json:"action"`
	Data   RequestData `json:"data,omitempty"`
	TabID  int         `json:"tabId,omitempty"`
}

// Result is the status payload of a response envelope.
type Result struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Account *Wallet `json:"account,omitempty"`
	Wallet  *Wallet `json:"wallet,omitempty"`
}

// ResponseEnvelope is an outbound message to a content-script channel or
// an extension surface.
type ResponseEnvelope struct {
	Target          string           `json:"target"`
	Action          Action           `json:"action"`
	Result          *Result          `json:"result,omitempty"`
	Network         *Network         `json:"network,omitempty"`
	ChainID         string           `json:"chainId,omitempty"`
	SelectedAccount *SelectedAccount `json:"selectedAccount,omitempty"`
	TabID           int              `json:"tabId,omitempty"`
}

// SignedCmd is the fully-formed command produced by the signer, ready
// for user confirmation and broadcast.
type SignedCmd struct {
	Hash string    `json:"hash"`
	Sigs []UserSig `json:"sigs"`
	Cmd  string    `json:"cmd"`
}

// UserSig is a single signature slot on a signed command. A nil Sig
// marks an unsigned slot awaiting an external signer.
type UserSig struct {
	Sig *string `json:"sig"`
}

// DappsPayload seeds the connect and transfer popups.
type DappsPayload struct {
	NetworkID string  `json:"networkId"`
	Domain    string  `json:"domain"`
	Icon      string  `json:"icon,omitempty"`
	ChainID   string  `json:"chainId,omitempty"`
	Account   string  `json:"account,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	TabID     int     `json:"tabId,omitempty"`
}

// SignedCmdPayload seeds the signing-confirmation popup.
type SignedCmdPayload struct {
	NetworkID string     `json:"networkId"`
	Domain    string     `json:"domain"`
	Icon      string     `json:"icon,omitempty"`
	Cmd       *SignedCmd `json:"cmd"`
	TabID     int        `json:"tabId,omitempty"`
}
