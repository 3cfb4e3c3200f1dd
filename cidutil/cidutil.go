// Package cidutil carries the builder-facing policy this module layers
// on top of github.com/ipfs/go-cid and github.com/multiformats/go-multihash:
// version selection (v0 vs v1) and identity-hash inlining (§3, §4.B).
//
// go-cid already implements the self-describing {version, codec,
// multihash} tuple and its base58/base32 string forms; we reuse it
// directly rather than re-deriving CID encode/decode.
package cidutil

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// InlineCidLimit is the default maximum payload size that may be
// addressed with an identity multihash instead of being persisted.
const InlineCidLimit = 32

// DefaultCodec and DefaultHash are the builder's defaults: dag-pb
// framed UnixFS nodes hashed with sha2-256.
const (
	DefaultCodec = cid.DagProtobuf
	DefaultHash  = mh.SHA2_256
)

// ChooseVersion implements §4.B: "the DAG Builder defaults to v0 when
// content_type == dag-pb and algorithm == sha2-256, else v1."
func ChooseVersion(codec uint64, hashFunc uint64) uint64 {
	if codec == cid.DagProtobuf && hashFunc == mh.SHA2_256 {
		return 0
	}
	return 1
}

// Prefix builds the cid.Prefix a block of the given codec/hash should
// be addressed under, applying the v0/v1 default policy.
func Prefix(codec uint64, hashFunc uint64, hashLen int) cid.Prefix {
	return cid.Prefix{
		Version:  ChooseVersion(codec, hashFunc),
		Codec:    codec,
		MhType:   hashFunc,
		MhLength: hashLen,
	}
}

// Sum computes the CID of data under prefix, summing the digest with
// the requested multihash algorithm (or inlining it, for the identity
// algorithm).
func Sum(data []byte, prefix cid.Prefix) (cid.Cid, error) {
	return prefix.Sum(data)
}

// IsIdentity reports whether c addresses its content by inlining it in
// an identity-coded multihash digest rather than hashing it.
func IsIdentity(c cid.Cid) bool {
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return false
	}
	return decoded.Code == mh.IDENTITY
}

// InlineDigest returns the inlined bytes of an identity-hashed CID.
func InlineDigest(c cid.Cid) ([]byte, bool) {
	decoded, err := mh.Decode(c.Hash())
	if err != nil || decoded.Code != mh.IDENTITY {
		return nil, false
	}
	return decoded.Digest, true
}

// ShouldInline reports whether data of this size, under the inline
// limit and with inlining allowed, should be addressed with an
// identity hash instead of being persisted (§3, §4.A).
func ShouldInline(size int, limit int, allow bool) bool {
	return allow && size <= limit
}

// IdentityPrefix returns the prefix for an inlined (identity-hash)
// block of the given codec.
func IdentityPrefix(codec uint64) cid.Prefix {
	return cid.Prefix{
		Version:  1,
		Codec:    codec,
		MhType:   mh.IDENTITY,
		MhLength: -1,
	}
}
