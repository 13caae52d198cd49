// internal/chain/client.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safarypto/safarypto/internal/config"
	"github.com/safarypto/safarypto/internal/db"
	"github.com/safarypto/safarypto/internal/logging"
)

// ErrSubmission means the node rejected a signed transaction: it is not in
// the mempool and will never mine.
//
// ErrSubmissionTimeout means the deadline expired before the node answered.
// The transaction may still land, so callers must leave their ledger row
// pending and keep the returned hash for later confirmation.
var (
	ErrSubmission        = errors.New("chain: transaction submission failed")
	ErrSubmissionTimeout = errors.New("chain: transaction submission timed out, outcome unknown")
)

const (
	nativeGasLimit = 21000
	tokenGasLimit  = 100000
	callTimeout    = 30 * time.Second

	erc20ABIJSON = `[
		{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
		{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
		{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
	]`
)

var txHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Client talks to an Ethereum JSON-RPC node: account creation, balance and
// receipt queries, and signed native/ERC-20 transfer submission.
type Client struct {
	eth       *ethclient.Client
	chainID   *big.Int
	tokenAddr common.Address
	erc20     abi.ABI
}

func NewClient(cfg config.ChainConfig) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to connect to node: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: failed to parse ERC-20 ABI: %w", err)
	}

	return &Client{
		eth:       eth,
		chainID:   big.NewInt(cfg.ChainID),
		tokenAddr: common.HexToAddress(cfg.TokenAddress),
		erc20:     parsed,
	}, nil
}

// CreateAccount generates a fresh secp256k1 keypair for wallet provisioning
// and returns the 0x address and hex-encoded private key.
func (c *Client) CreateAccount() (address string, privateKey string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("chain: failed to generate key: %w", err)
	}
	address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	privateKey = hexutil.Encode(crypto.FromECDSA(key))
	return address, privateKey, nil
}

func (c *Client) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (c *Client) ValidateTxHash(hash string) bool {
	return txHashRe.MatchString(hash)
}

// GetBalance returns the native balance of an address in ether units.
func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	logger := logging.With(zap.String("address", address))

	if !c.ValidateAddress(address) {
		return decimal.Zero, fmt.Errorf("chain: invalid address: %s", address)
	}

	var wei *big.Int
	err := retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()
			var err error
			wei, err = c.eth.BalanceAt(callCtx, common.HexToAddress(address), nil)
			return err
		},
		retry.Attempts(3),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("balance query retry", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: failed to get balance: %w", err)
	}

	return decimal.NewFromBigInt(wei, -18), nil
}

// GetTokenBalance returns the configured token's balance of an address,
// scaled by the token's on-chain decimals.
func (c *Client) GetTokenBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !c.ValidateAddress(address) {
		return decimal.Zero, fmt.Errorf("chain: invalid address: %s", address)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	decimals, err := c.tokenDecimals(callCtx)
	if err != nil {
		return decimal.Zero, err
	}

	data, err := c.erc20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: failed to pack balanceOf: %w", err)
	}
	out, err := c.eth.CallContract(callCtx, ethereum.CallMsg{To: &c.tokenAddr, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: token balance call failed: %w", err)
	}
	results, err := c.erc20.Unpack("balanceOf", out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: failed to unpack balanceOf: %w", err)
	}
	raw := results[0].(*big.Int)

	return decimal.NewFromBigInt(raw, -int32(decimals)), nil
}

// Send signs and submits a transfer: native ether for ETH, the configured
// token contract otherwise. Returns the transaction hash; on timeout the
// hash accompanies ErrSubmissionTimeout so the caller can keep an auditable
// record of the maybe-mined transaction.
func (c *Client) Send(ctx context.Context, privateKeyHex, toAddress string, amount decimal.Decimal, currency db.Currency) (string, error) {
	logger := logging.With(zap.String("toAddress", toAddress), zap.String("currency", string(currency)))

	if !c.ValidateAddress(toAddress) {
		return "", fmt.Errorf("chain: invalid recipient address: %s", toAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("chain: invalid private key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	// Pending-inclusive nonce so queued transfers from the same wallet do
	// not collide.
	nonce, err := c.eth.PendingNonceAt(callCtx, from)
	if err != nil {
		return "", fmt.Errorf("chain: failed to get nonce: %w", err)
	}

	gasPrice := c.gasPrice(callCtx)
	to := common.HexToAddress(toAddress)

	var tx *types.Transaction
	if currency == db.CurrencyETH {
		tx = types.NewTransaction(nonce, to, amount.Shift(18).BigInt(), nativeGasLimit, gasPrice, nil)
	} else {
		decimals, err := c.tokenDecimals(callCtx)
		if err != nil {
			return "", err
		}
		value := amount.Shift(int32(decimals)).BigInt()
		data, err := c.erc20.Pack("transfer", to, value)
		if err != nil {
			return "", fmt.Errorf("chain: failed to pack transfer: %w", err)
		}
		tx = types.NewTransaction(nonce, c.tokenAddr, big.NewInt(0), tokenGasLimit, gasPrice, data)
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", fmt.Errorf("chain: failed to sign transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	if err := c.eth.SendTransaction(callCtx, signed); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			logger.Warn("transaction submission timed out",
				zap.String("txHash", hash), zap.Error(err))
			return hash, fmt.Errorf("%w: %v", ErrSubmissionTimeout, err)
		}
		logger.Error("transaction submission rejected", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	logger.Info("transaction submitted",
		zap.String("txHash", hash),
		zap.Uint64("nonce", nonce),
		zap.String("gasPrice", gasPrice.String()))
	return hash, nil
}

// Receipt fetches the receipt for a mined transaction hash.
func (c *Client) Receipt(ctx context.Context, hash string) (*types.Receipt, error) {
	if !c.ValidateTxHash(hash) {
		return nil, fmt.Errorf("chain: invalid transaction hash: %s", hash)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(callCtx, common.HexToHash(hash))
	if err != nil {
		return nil, fmt.Errorf("chain: failed to get transaction receipt: %w", err)
	}
	return receipt, nil
}

// gasPrice suggests a price scaled up 20% to cut stuck-transaction risk,
// falling back to 20 gwei when the node query fails.
func (c *Client) gasPrice(ctx context.Context) *big.Int {
	suggested, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		logging.Warn("gas price query failed, using fallback", zap.Error(err))
		return new(big.Int).Mul(big.NewInt(20), big.NewInt(1e9))
	}
	return new(big.Int).Div(new(big.Int).Mul(suggested, big.NewInt(120)), big.NewInt(100))
}

func (c *Client) tokenDecimals(ctx context.Context) (uint8, error) {
	data, err := c.erc20.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("chain: failed to pack decimals: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.tokenAddr, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: decimals call failed: %w", err)
	}
	results, err := c.erc20.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("chain: failed to unpack decimals: %w", err)
	}
	return results[0].(uint8), nil
}
