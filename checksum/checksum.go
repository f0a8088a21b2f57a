// Package checksum implements the descriptor checksum scheme used by
// Bitcoin Core's descriptor.cpp: a BCH-style polynomial over 5-bit groups
// of the descriptor's character set, rendered as 8 characters from a
// second, smaller alphabet.
package checksum

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is the sentinel VerifyErr wraps when the checksum does not
// match the body, or is malformed (wrong length, characters outside the
// checksum alphabet).
var ErrInvalid = errors.New("checksum: invalid")

const (
	alphabet         = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumAlphabet = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// Length is the fixed size of a descriptor checksum.
	Length = 8
)

var generator = []uint64{0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd}

// expand maps a string to its 5-bit symbol groups. It reports false if any
// character falls outside the descriptor alphabet.
func expand(s string) ([]byte, bool) {
	groups := make([]byte, 0, 3)
	syms := make([]byte, 0, len(s)*4/3)
	for i := range len(s) {
		c := s[i]
		idx := strings.IndexByte(alphabet, c)
		if idx == -1 {
			return nil, false
		}
		v := byte(idx)
		syms = append(syms, v&31)
		groups = append(groups, v>>5)
		if len(groups) == 3 {
			syms = append(syms, groups[0]*9+groups[1]*3+groups[2])
			groups = groups[:0]
		}
	}
	switch len(groups) {
	case 1:
		syms = append(syms, groups[0])
	case 2:
		syms = append(syms, groups[0]*3+groups[1])
	}
	return syms, true
}

// polymod computes the BCH-style checksum of a sequence of 5-bit symbols.
func polymod(syms []byte) uint64 {
	chk := uint64(1)
	for _, v := range syms {
		top := chk >> 35
		chk = (chk&0x7ffffffff)<<5 ^ uint64(v)
		for i := range 5 {
			if (top>>i)&1 != 0 {
				chk ^= generator[i]
			}
		}
	}
	return chk
}

// Compute returns the 8-character checksum of a checksum-free descriptor
// body. It reports false if body contains a character outside the
// descriptor alphabet.
func Compute(body string) (string, bool) {
	syms, ok := expand(body)
	if !ok {
		return "", false
	}
	syms = append(syms, 0, 0, 0, 0, 0, 0, 0, 0)
	sum := polymod(syms) ^ 1
	var res [Length]byte
	for i := range res {
		res[i] = checksumAlphabet[(sum>>(5*(7-i)))&31]
	}
	return string(res[:]), true
}

// Verify reports whether sum is the correct checksum for body. body must
// already have any "#sum" suffix removed; sum must be exactly the 8
// checksum characters with no leading "#".
func Verify(body, sum string) bool {
	if len(sum) != Length {
		return false
	}
	syms, ok := expand(body)
	if !ok {
		return false
	}
	for i := range len(sum) {
		idx := strings.IndexByte(checksumAlphabet, sum[i])
		if idx == -1 {
			return false
		}
		syms = append(syms, byte(idx))
	}
	return polymod(syms) == 1
}

// VerifyErr is Verify with a wrapped error instead of a bool, for callers
// that want to report the offending checksum via errors.Is(err, ErrInvalid).
func VerifyErr(body, sum string) error {
	if !Verify(body, sum) {
		return fmt.Errorf("%w: %q", ErrInvalid, sum)
	}
	return nil
}

// Split separates a descriptor expression into its body and trailing
// checksum, if any. ok reports whether a "#xxxxxxxx" suffix was present;
// it does not validate the checksum.
func Split(expr string) (body, sum string, ok bool) {
	body, sum, ok = strings.Cut(expr, "#")
	return
}
