package evmhost

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/ethclient"
)

// LoadKey decrypts an Ethereum v3 keystore file.
func LoadKey(path, passphrase string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("evmhost: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("evmhost: decrypt keystore: %w", err)
	}
	return decrypted.PrivateKey, nil
}

// Dial connects to endpoint and builds a host around it. A zero chain id in
// opts is replaced by the one the node reports.
func Dial(ctx context.Context, endpoint string, key *ecdsa.PrivateKey, opts Options, logger *slog.Logger) (*Host, *ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, nil, errors.New("evmhost: endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("evmhost: dial: %w", err)
	}
	if opts.ChainID == nil || opts.ChainID.Sign() == 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("evmhost: chain id: %w", err)
		}
		opts.ChainID = new(big.Int).Set(id)
	}
	host, err := New(client, key, opts, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return host, client, nil
}
