package wallet

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// SecureRecord is the persisted form of one account. Only Seed is secret,
// and it is stored sealed. Extra is caller metadata kept in the clear and
// not bound to the seed. KDF holds the Argon2id cost the seed was sealed
// with; records without it were sealed with InteractiveParams.
type SecureRecord struct {
	PublicKey string     `json:"pkey"`
	Seed      string     `json:"seed"`
	Salt      string     `json:"salt"`
	KDF       *KDFParams `json:"kdf,omitempty"`
	Extra     []byte     `json:"extra,omitempty"`
}

// Marshal serializes the record to its stored JSON form.
func (r *SecureRecord) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindEncodingFailed, "marshal record", err)
	}
	return data, nil
}

// UnmarshalRecord parses a stored record. Unknown fields are ignored.
func UnmarshalRecord(data []byte) (*SecureRecord, error) {
	var r SecureRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, walleterr.Wrap(walleterr.KindDecodingFailed, "unmarshal record", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *SecureRecord) validate() error {
	if r.PublicKey == "" {
		return walleterr.Wrap(walleterr.KindDecodingFailed, "validate record", fmt.Errorf("missing public key"))
	}
	if _, err := types.ParseAddress(r.PublicKey); err != nil {
		return walleterr.Wrap(walleterr.KindDecodingFailed, "validate record", err)
	}
	if r.Seed == "" {
		return walleterr.New(walleterr.KindNoSeed, "validate record")
	}
	if r.Salt == "" {
		return walleterr.New(walleterr.KindNoSalt, "validate record")
	}
	return nil
}

// Address returns the account address stored in the record.
func (r *SecureRecord) Address() (types.Address, error) {
	a, err := types.ParseAddress(r.PublicKey)
	if err != nil {
		return types.Address{}, walleterr.Wrap(walleterr.KindDecodingFailed, "record address", err)
	}
	return a, nil
}

// Clone returns a deep copy of the record.
func (r *SecureRecord) Clone() *SecureRecord {
	c := *r
	if r.KDF != nil {
		kdf := *r.KDF
		c.KDF = &kdf
	}
	if r.Extra != nil {
		c.Extra = bytes.Clone(r.Extra)
	}
	return &c
}

// kdfParams returns the cost the record was sealed with.
func (r *SecureRecord) kdfParams() KDFParams {
	if r.KDF == nil {
		return InteractiveParams()
	}
	return *r.KDF
}

// openSeed decrypts the record's seed with the record's own KDF cost and
// checks it still derives the stored public key. The caller must zero the
// result.
func (r *SecureRecord) openSeed(passphrase []byte) ([]byte, error) {
	salt, err := hex.DecodeString(r.Salt)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindDecodingFailed, "decode salt", err)
	}
	key, err := DeriveKey(passphrase, salt, r.kdfParams())
	if err != nil {
		return nil, err
	}
	defer clear(key)

	seed, err := OpenSeed(r.Seed, key)
	if err != nil {
		return nil, err
	}

	want, err := r.Address()
	if err != nil {
		clear(seed)
		return nil, err
	}
	got, err := addressFromSeed(seed)
	if err != nil {
		clear(seed)
		return nil, err
	}
	if got != want {
		clear(seed)
		return nil, walleterr.Wrap(walleterr.KindDecodingFailed, "open seed",
			fmt.Errorf("public key does not match sealed seed"))
	}
	return seed, nil
}

// sealRecord builds a record for seed under passphrase with a fresh salt.
func sealRecord(seed, passphrase []byte, params KDFParams, r io.Reader, hrp string) (*SecureRecord, error) {
	if len(seed) != SeedSize {
		return nil, walleterr.Wrap(walleterr.KindNoSeed, "seal record",
			fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed)))
	}

	salt, err := RandomSalt(r)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindNoSalt, "seal record", err)
	}

	key, err := DeriveKey(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	sealed, err := SealSeed(seed, key, r)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindEncryptionFailed, "seal record", err)
	}

	addr, err := addressFromSeed(seed)
	if err != nil {
		return nil, err
	}

	kdf := params
	return &SecureRecord{
		PublicKey: addr.Encode(hrp),
		Seed:      sealed,
		Salt:      hex.EncodeToString(salt),
		KDF:       &kdf,
	}, nil
}

// Reencrypt opens the record with passphrase and seals the same seed under
// newPassphrase with a fresh salt and the given cost. The address is
// unchanged and Extra is dropped. A record addressed on another network
// than hrp fails with DecodingFailed.
func (r *SecureRecord) Reencrypt(passphrase, newPassphrase []byte, params KDFParams, rnd io.Reader, hrp string) (*SecureRecord, error) {
	_, recHRP, err := types.ParseAddressHRP(r.PublicKey)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindDecodingFailed, "reencrypt", err)
	}
	if recHRP != "" && recHRP != hrp {
		return nil, walleterr.Wrap(walleterr.KindDecodingFailed, "reencrypt",
			fmt.Errorf("record address is for %q, keystore uses %q", recHRP, hrp))
	}

	seed, err := r.openSeed(passphrase)
	if err != nil {
		return nil, err
	}
	defer clear(seed)

	return sealRecord(seed, newPassphrase, params, rnd, hrp)
}

func addressFromSeed(seed []byte) (types.Address, error) {
	kp, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		return types.Address{}, walleterr.Wrap(walleterr.KindKeypairGenerationFailed, "derive keypair", err)
	}
	defer kp.Zero()
	return types.AddressFromPublicKey(kp.PublicKey())
}
