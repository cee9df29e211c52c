package user

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Proton-105/hashpay/internal/domain"
)

var ethAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// NetworkParams maps a configured bitcoin network name to chain parameters.
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", network)
	}
}

// ValidateAddress checks the syntax of a payout address for currency. It does
// not check that the address exists or is spendable.
func ValidateAddress(currency domain.Currency, address string, params *chaincfg.Params) error {
	switch currency {
	case domain.CurrencyBTC:
		decoded, err := btcutil.DecodeAddress(address, params)
		if err != nil {
			return fmt.Errorf("invalid bitcoin address: %w", err)
		}
		if !decoded.IsForNet(params) {
			return fmt.Errorf("address is not valid for %s", params.Name)
		}
		return nil
	case domain.CurrencyETH:
		if !ethAddressPattern.MatchString(address) {
			return fmt.Errorf("invalid ethereum address")
		}
		return nil
	default:
		return fmt.Errorf("unsupported currency %q", currency)
	}
}
