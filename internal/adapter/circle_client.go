package adapter

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/delegation-service/internal/config"
)

const (
	circleProvider      = "circle"
	circlePublicKeyPath = "/v1/w3s/config/entity/publicKey"
	circleWalletsPath   = "/v1/w3s/developer/wallets"
	circleTransferPath  = "/v1/w3s/developer/transactions/transfer"
)

// CircleWalletProvisioner talks to Circle's developer-controlled wallets API
type CircleWalletProvisioner struct {
	client       *resty.Client
	entitySecret []byte
	walletSetID  string
	blockchain   string
	tokenAddress string

	keyMu     sync.Mutex
	publicKey *rsa.PublicKey
}

type circleEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

type circleWalletMetadata struct {
	Name  string `json:"name,omitempty"`
	RefID string `json:"refId,omitempty"`
}

type createWalletsRequest struct {
	IdempotencyKey         string                 `json:"idempotencyKey"`
	EntitySecretCiphertext string                 `json:"entitySecretCiphertext"`
	WalletSetID            string                 `json:"walletSetId"`
	Blockchains            []string               `json:"blockchains"`
	Count                  int                    `json:"count"`
	Metadata               []circleWalletMetadata `json:"metadata,omitempty"`
}

type transferRequest struct {
	IdempotencyKey         string   `json:"idempotencyKey"`
	EntitySecretCiphertext string   `json:"entitySecretCiphertext"`
	WalletID               string   `json:"walletId"`
	DestinationAddress     string   `json:"destinationAddress"`
	Amounts                []string `json:"amounts"`
	TokenAddress           string   `json:"tokenAddress"`
	Blockchain             string   `json:"blockchain"`
	FeeLevel               string   `json:"feeLevel"`
}

// NewCircleWalletProvisioner creates a Circle client. Transfers move tokenAddress.
func NewCircleWalletProvisioner(cfg *config.CircleConfig, tokenAddress string) (*CircleWalletProvisioner, error) {
	if !cfg.Enabled() {
		return nil, ErrProviderUnavailable
	}

	secret, err := hex.DecodeString(strings.TrimPrefix(cfg.EntitySecret, "0x"))
	if err != nil || len(secret) != 32 {
		return nil, fmt.Errorf("entity secret must be 32 bytes of hex")
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &CircleWalletProvisioner{
		client:       client,
		entitySecret: secret,
		walletSetID:  cfg.WalletSetID,
		blockchain:   cfg.Blockchain,
		tokenAddress: tokenAddress,
	}, nil
}

// CreateWallet creates one wallet in the configured wallet set
func (c *CircleWalletProvisioner) CreateWallet(ctx context.Context, aliasHint string) (*CustodialWallet, error) {
	ciphertext, err := c.entitySecretCiphertext(ctx)
	if err != nil {
		return nil, err
	}

	req := createWalletsRequest{
		IdempotencyKey:         uuid.New().String(),
		EntitySecretCiphertext: ciphertext,
		WalletSetID:            c.walletSetID,
		Blockchains:            []string{c.blockchain},
		Count:                  1,
	}
	if aliasHint != "" {
		req.Metadata = []circleWalletMetadata{{Name: aliasHint}}
	}

	var out struct {
		Wallets []CustodialWallet `json:"wallets"`
	}
	if err := c.post(ctx, "CreateWallet", circleWalletsPath, req, &out); err != nil {
		return nil, err
	}
	if len(out.Wallets) == 0 {
		return nil, &ProviderError{Provider: circleProvider, Op: "CreateWallet", Reason: "response contained no wallets"}
	}

	wallet := out.Wallets[0]
	return &wallet, nil
}

// Transfer sends amount of the delegated token from sourceWalletID
func (c *CircleWalletProvisioner) Transfer(ctx context.Context, sourceWalletID, destinationAddress string, amount float64) (*TransferResult, error) {
	ciphertext, err := c.entitySecretCiphertext(ctx)
	if err != nil {
		return nil, err
	}

	req := transferRequest{
		IdempotencyKey:         uuid.New().String(),
		EntitySecretCiphertext: ciphertext,
		WalletID:               sourceWalletID,
		DestinationAddress:     destinationAddress,
		Amounts:                []string{decimal.NewFromFloat(amount).String()},
		TokenAddress:           c.tokenAddress,
		Blockchain:             c.blockchain,
		FeeLevel:               "MEDIUM",
	}

	var out TransferResult
	if err := c.post(ctx, "Transfer", circleTransferPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CircleWalletProvisioner) post(ctx context.Context, op, path string, body interface{}, out interface{}) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return &ProviderError{Provider: circleProvider, Op: op, Reason: "request failed", Err: err}
	}

	var envelope circleEnvelope
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &envelope); err != nil && !resp.IsError() {
			return &ProviderError{Provider: circleProvider, Op: op, Reason: "malformed response", Err: err}
		}
	}

	if resp.IsError() {
		reason := envelope.Message
		if reason == "" {
			reason = resp.Status()
		}
		return &ProviderError{Provider: circleProvider, Op: op, StatusCode: resp.StatusCode(), Reason: reason}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &ProviderError{Provider: circleProvider, Op: op, Reason: "malformed response", Err: err}
		}
	}
	return nil
}

// entitySecretCiphertext encrypts the entity secret with the entity public key.
// Circle requires a fresh ciphertext for every mutating request.
func (c *CircleWalletProvisioner) entitySecretCiphertext(ctx context.Context) (string, error) {
	key, err := c.entityPublicKey(ctx)
	if err != nil {
		return "", err
	}

	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, c.entitySecret, nil)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt entity secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func (c *CircleWalletProvisioner) entityPublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()

	if c.publicKey != nil {
		return c.publicKey, nil
	}

	resp, err := c.client.R().SetContext(ctx).Get(circlePublicKeyPath)
	if err != nil {
		return nil, &ProviderError{Provider: circleProvider, Op: "PublicKey", Reason: "request failed", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{Provider: circleProvider, Op: "PublicKey", StatusCode: resp.StatusCode(), Reason: resp.Status()}
	}

	var envelope struct {
		Data struct {
			PublicKey string `json:"publicKey"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, &ProviderError{Provider: circleProvider, Op: "PublicKey", Reason: "malformed response", Err: err}
	}

	key, err := parseRSAPublicKey(envelope.Data.PublicKey)
	if err != nil {
		return nil, &ProviderError{Provider: circleProvider, Op: "PublicKey", Reason: "invalid public key", Err: err}
	}

	c.publicKey = key
	return key, nil
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
		return rsaKey, nil
	}

	return x509.ParsePKCS1PublicKey(block.Bytes)
}
