package btcfamily

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// scriptForAddress decodes a payout address against chain and returns the
// output script a coinbase transaction should pay it with.
//
// Grounded on: teacher's scriptForAddress (address.go), address-to-script
// direction only. The reverse direction (script-to-address) is not
// carried over: nothing here needs to turn a script back into a display
// address, and its only grounding dependency in the teacher,
// github.com/btcsuite/btcutil/base58, is a separate module from
// github.com/btcsuite/btcd/btcutil already pulled in here.
func scriptForAddress(address string, chain *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, chain)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if !addr.IsForNet(chain) {
		return nil, fmt.Errorf("address %s is not valid for this network", address)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("build payout script: %w", err)
	}
	return script, nil
}

// validAddress reports whether address parses and is valid for chain,
// without constructing its output script.
func validAddress(address string, chain *chaincfg.Params) bool {
	addr, err := btcutil.DecodeAddress(address, chain)
	if err != nil {
		return false
	}
	return addr.IsForNet(chain)
}
