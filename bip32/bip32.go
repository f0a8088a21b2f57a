// package bip32 contains helper functions for operating on bitcoin bip32
// extended keys.
package bip32

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type Path []uint32

func (p Path) String() string {
	var d strings.Builder
	d.WriteRune('m')
	for _, p := range p {
		d.WriteByte('/')
		idx := p
		if p >= hdkeychain.HardenedKeyStart {
			idx -= hdkeychain.HardenedKeyStart
		}
		d.WriteString(strconv.Itoa(int(idx)))
		if p >= hdkeychain.HardenedKeyStart {
			d.WriteByte('h')
		}
	}
	return d.String()
}

// Fingerprint is the first 4 bytes of the RIPEMD160(SHA256(pkey)).
func Fingerprint(pkey *secp256k1.PublicKey) uint32 {
	mfp := btcutil.Hash160(pkey.SerializeCompressed())[:4]
	return binary.BigEndian.Uint32(mfp)
}

// Derive walks path from mk and neuters the result, so the returned key
// never carries private material even if mk did.
func Derive(mk *hdkeychain.ExtendedKey, path Path) (xpub *hdkeychain.ExtendedKey, err error) {
	key, err := DeriveKeepPrivate(mk, path)
	if err != nil {
		return nil, err
	}
	return key.Neuter()
}

// DeriveKeepPrivate walks path from mk, preserving mk's private/public
// nature in the result. Use this when the caller may need the derived
// key's private scalar (e.g. an xprv key expression); use Derive when
// only the public point is ever needed.
func DeriveKeepPrivate(mk *hdkeychain.ExtendedKey, path Path) (key *hdkeychain.ExtendedKey, err error) {
	key = mk
	for _, p := range path {
		key, err = key.Derive(p)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

func NetworkFor(xpub *hdkeychain.ExtendedKey) (*chaincfg.Params, error) {
	networks := []*chaincfg.Params{
		&chaincfg.MainNetParams,
		&chaincfg.TestNet3Params,
		&chaincfg.SimNetParams,
	}
	for _, n := range networks {
		if xpub.IsForNet(n) {
			return n, nil
		}
	}
	return nil, errors.New("unknown network")
}

func ParsePathElement(p string) (uint32, error) {
	offset := uint32(0)
	if strings.HasSuffix(p, "h") || strings.HasSuffix(p, "'") {
		offset = hdkeychain.HardenedKeyStart
		p = p[:len(p)-1]
	}
	idx, err := strconv.ParseInt(p, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("bip32: invalid path element: %q", p)
	}
	iu32 := uint32(idx)
	if int64(iu32) != idx || iu32+offset < iu32 {
		return 0, fmt.Errorf("bip32: path element out of range: %q", p)
	}
	return iu32 + offset, nil
}
