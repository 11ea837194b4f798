package wallet

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

func testKeyStore(t *testing.T, opts ...Option) *KeyStore {
	t.Helper()
	opts = append([]Option{WithKDFParams(fastParams())}, opts...)
	return NewKeyStore(storage.NewMemory(), opts...)
}

// failingDB rejects every write.
type failingDB struct {
	*storage.MemoryDB
}

func (failingDB) Put(key, value []byte) error {
	return errors.New("disk full")
}

func TestKeyStore_CreateAccount(t *testing.T) {
	ks := testKeyStore(t)

	acct, err := ks.CreateAccount([]byte("pass"))
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}
	if acct.Key() != "000000" {
		t.Errorf("Key() = %q, want 000000", acct.Key())
	}

	rec, err := acct.Record()
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if len(rec.Salt) != 2*SaltSize {
		t.Errorf("salt hex length = %d, want %d", len(rec.Salt), 2*SaltSize)
	}
	if strings.Contains(rec.Seed, "pass") {
		t.Error("record must not contain the passphrase")
	}

	// The stored public key matches the key derived from the sealed seed.
	addr, err := acct.Address()
	if err != nil {
		t.Fatalf("Address() error: %v", err)
	}
	msg := []byte("hello")
	sig, err := acct.Sign(msg, []byte("pass"))
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !crypto.VerifySignature(msg, sig, addr.Bytes()) {
		t.Error("signature does not verify against the stored public key")
	}
}

func TestKeyStore_SignWrongPassphrase(t *testing.T) {
	ks := testKeyStore(t)
	acct, _ := ks.CreateAccount([]byte("correct"))

	_, err := acct.Sign([]byte("m"), []byte("wrong"))
	if !errors.Is(err, walleterr.ErrPassphraseIncorrect) {
		t.Errorf("Sign() error = %v, want PassphraseIncorrect", err)
	}
}

func TestKeyStore_CreateAccount_RandomnessFailures(t *testing.T) {
	tests := []struct {
		name string
		rnd  io.Reader
		want error
	}{
		{"no seed", errReader{}, walleterr.ErrNoSeed},
		{"no salt", io.LimitReader(rand.Reader, SeedSize), walleterr.ErrNoSalt},
		{"no nonce", io.LimitReader(rand.Reader, SeedSize+SaltSize), walleterr.ErrEncryptionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks := testKeyStore(t, WithRandom(tt.rnd))
			_, err := ks.CreateAccount([]byte("pass"))
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateAccount() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, walleterr.ErrRandomnessUnavailable) {
				t.Errorf("CreateAccount() error = %v, should carry RandomnessUnavailable", err)
			}
			if n, _ := ks.Count(); n != 0 {
				t.Errorf("Count() = %d after failed create, want 0", n)
			}
		})
	}
}

func TestKeyStore_CreateAccount_StoreFailed(t *testing.T) {
	ks := NewKeyStore(failingDB{storage.NewMemory()}, WithKDFParams(fastParams()))
	_, err := ks.CreateAccount([]byte("pass"))
	if !errors.Is(err, walleterr.ErrStoreFailed) {
		t.Errorf("CreateAccount() error = %v, want StoreFailed", err)
	}
}

func TestKeyStore_CreateAccount_HashingFailed(t *testing.T) {
	ks := NewKeyStore(storage.NewMemory(), WithKDFParams(KDFParams{Memory: 64, Iterations: 0, Parallelism: 1}))
	_, err := ks.CreateAccount([]byte("pass"))
	if !errors.Is(err, walleterr.ErrHashingFailed) {
		t.Errorf("CreateAccount() error = %v, want HashingFailed", err)
	}
}

func TestKeyStore_ImportSecretSeed(t *testing.T) {
	ks := testKeyStore(t)
	seed := bytes.Repeat([]byte{0x11}, SeedSize)
	secret, err := types.EncodeSecretSeed(seed)
	if err != nil {
		t.Fatalf("EncodeSecretSeed: %v", err)
	}

	acct, err := ks.ImportSecretSeed(secret, []byte("pass"))
	if err != nil {
		t.Fatalf("ImportSecretSeed() error: %v", err)
	}

	kp, _ := crypto.KeyPairFromSeed(seed)
	pub, _ := acct.PublicKey()
	if !bytes.Equal(pub, kp.PublicKey()) {
		t.Error("imported account has the wrong public key")
	}

	got, err := acct.SecretSeed([]byte("pass"))
	if err != nil {
		t.Fatalf("SecretSeed() error: %v", err)
	}
	if got != secret {
		t.Errorf("SecretSeed() = %q, want %q", got, secret)
	}
}

func TestKeyStore_ImportSecretSeed_Malformed(t *testing.T) {
	ks := testKeyStore(t)
	_, err := ks.ImportSecretSeed("kgxsec1notaseed", []byte("pass"))
	if !errors.Is(err, walleterr.ErrDecodingFailed) {
		t.Errorf("ImportSecretSeed() error = %v, want DecodingFailed", err)
	}
}

func TestKeyStore_MnemonicRoundtrip(t *testing.T) {
	ks := testKeyStore(t)
	acct, _ := ks.CreateAccount([]byte("pass"))

	m, err := acct.Mnemonic([]byte("pass"))
	if err != nil {
		t.Fatalf("Mnemonic() error: %v", err)
	}

	other := testKeyStore(t)
	restored, err := other.ImportMnemonic(m, []byte("new"))
	if err != nil {
		t.Fatalf("ImportMnemonic() error: %v", err)
	}

	a1, _ := acct.Address()
	a2, _ := restored.Address()
	if a1 != a2 {
		t.Error("mnemonic restore produced a different address")
	}
}

func TestKeyStore_ReencryptPreservesIdentity(t *testing.T) {
	ks := testKeyStore(t)
	acct, _ := ks.CreateAccount([]byte("old"))
	ks.SetExtra(acct, []byte("label"))
	orig, _ := acct.Record()

	exported, err := ks.ExportAccount(acct, []byte("old"), []byte("new"))
	if err != nil {
		t.Fatalf("ExportAccount() error: %v", err)
	}
	if exported.PublicKey != orig.PublicKey {
		t.Error("re-encryption changed the public key")
	}
	if exported.Salt == orig.Salt {
		t.Error("re-encryption must use a fresh salt")
	}
	if exported.Extra != nil {
		t.Error("exported record should drop extra data")
	}

	oldSeed, err := orig.openSeed([]byte("old"))
	if err != nil {
		t.Fatalf("open original: %v", err)
	}
	newSeed, err := exported.openSeed([]byte("new"))
	if err != nil {
		t.Fatalf("open exported: %v", err)
	}
	if !bytes.Equal(oldSeed, newSeed) {
		t.Error("re-encrypted seed differs from original")
	}
	if _, err := exported.openSeed([]byte("old")); !errors.Is(err, walleterr.ErrPassphraseIncorrect) {
		t.Errorf("old passphrase on exported record error = %v, want PassphraseIncorrect", err)
	}
}

func TestKeyStore_ExportSamePassphrase(t *testing.T) {
	ks := testKeyStore(t)
	acct, _ := ks.CreateAccount([]byte("pass"))
	orig, _ := acct.Record()

	exported, err := ks.ExportAccount(acct, []byte("pass"), []byte("pass"))
	if err != nil {
		t.Fatalf("ExportAccount() error: %v", err)
	}
	if exported.Seed != orig.Seed || exported.Salt != orig.Salt {
		t.Error("export with equal passphrases should return the stored record unchanged")
	}
}

func TestKeyStore_ExportErrorsAreDistinct(t *testing.T) {
	ks := testKeyStore(t)
	acct, _ := ks.CreateAccount([]byte("pass"))

	_, err := ks.ExportAccount(acct, []byte("wrong"), []byte("new"))
	if !errors.Is(err, walleterr.ErrPassphraseIncorrect) {
		t.Errorf("wrong passphrase error = %v, want PassphraseIncorrect", err)
	}

	ks.RemoveAccount(acct)
	_, err = ks.ExportAccount(acct, []byte("pass"), []byte("new"))
	if !errors.Is(err, walleterr.ErrLoadFailed) {
		t.Errorf("removed account error = %v, want LoadFailed", err)
	}
}

func TestKeyStore_ImportRecord(t *testing.T) {
	src := testKeyStore(t)
	acct, _ := src.CreateAccount([]byte("old"))
	rec, _ := acct.Record()

	dst := testKeyStore(t)
	if _, err := dst.ImportRecord(rec, []byte("bad"), []byte("new")); !errors.Is(err, walleterr.ErrPassphraseIncorrect) {
		t.Fatalf("ImportRecord() wrong passphrase error = %v", err)
	}
	if n, _ := dst.Count(); n != 0 {
		t.Fatalf("failed import must not store anything, Count() = %d", n)
	}

	imported, err := dst.ImportRecord(rec, []byte("old"), []byte("new"))
	if err != nil {
		t.Fatalf("ImportRecord() error: %v", err)
	}
	a1, _ := acct.Address()
	a2, _ := imported.Address()
	if a1 != a2 {
		t.Error("imported record has a different address")
	}
	if _, err := imported.Sign([]byte("m"), []byte("new")); err != nil {
		t.Errorf("Sign() with new passphrase error: %v", err)
	}
}

func TestKeyStore_ImportRecord_MismatchedPublicKey(t *testing.T) {
	ks := testKeyStore(t)
	a, _ := ks.CreateAccount([]byte("p"))
	b, _ := ks.CreateAccount([]byte("p"))
	ra, _ := a.Record()
	rb, _ := b.Record()

	forged := ra.Clone()
	forged.PublicKey = rb.PublicKey
	_, err := ks.ImportRecord(forged, []byte("p"), []byte("q"))
	if !errors.Is(err, walleterr.ErrDecodingFailed) {
		t.Errorf("ImportRecord() forged record error = %v, want DecodingFailed", err)
	}
}

func TestKeyStore_ImportRecord_OtherNetwork(t *testing.T) {
	src := testKeyStore(t, WithNetwork(types.TestnetHRP))
	acct, _ := src.CreateAccount([]byte("old"))
	rec, _ := acct.Record()
	if !strings.HasPrefix(rec.PublicKey, types.TestnetHRP+"1") {
		t.Fatalf("testnet record address = %q", rec.PublicKey)
	}

	dst := testKeyStore(t, WithNetwork(types.MainnetHRP))
	_, err := dst.ImportRecord(rec, []byte("old"), []byte("new"))
	if !errors.Is(err, walleterr.ErrDecodingFailed) {
		t.Errorf("ImportRecord() testnet record into mainnet error = %v, want DecodingFailed", err)
	}
	if n, _ := dst.Count(); n != 0 {
		t.Errorf("rejected import stored a record, Count() = %d", n)
	}

	// Same network is fine and keeps the prefix.
	same := testKeyStore(t, WithNetwork(types.TestnetHRP))
	imported, err := same.ImportRecord(rec, []byte("old"), []byte("new"))
	if err != nil {
		t.Fatalf("ImportRecord() same network error: %v", err)
	}
	got, _ := imported.Record()
	if got.PublicKey != rec.PublicKey {
		t.Errorf("imported address = %q, want %q", got.PublicKey, rec.PublicKey)
	}
}

func TestKeyStore_OpensWithRecordKDFParams(t *testing.T) {
	db := storage.NewMemory()
	oldParams := fastParams()
	ks1 := NewKeyStore(db, WithKDFParams(oldParams))
	acct, err := ks1.CreateAccount([]byte("pass"))
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}
	rec, _ := acct.Record()
	if rec.KDF == nil || *rec.KDF != oldParams {
		t.Fatalf("record KDF = %+v, want %+v", rec.KDF, oldParams)
	}

	// The configured cost changes; existing records keep their own.
	newParams := oldParams
	newParams.Iterations++
	newParams.Memory *= 2
	ks2 := NewKeyStore(db, WithKDFParams(newParams))
	reopened, err := ks2.AccountAt(0)
	if err != nil {
		t.Fatalf("AccountAt() error: %v", err)
	}
	if _, err := reopened.Sign([]byte("m"), []byte("pass")); err != nil {
		t.Fatalf("Sign() after KDF change error: %v", err)
	}
	if _, err := reopened.Sign([]byte("m"), []byte("wrong")); !errors.Is(err, walleterr.ErrPassphraseIncorrect) {
		t.Errorf("Sign() wrong passphrase error = %v, want PassphraseIncorrect", err)
	}

	// Re-sealing adopts the new cost.
	exported, err := ks2.ExportAccount(reopened, []byte("pass"), []byte("next"))
	if err != nil {
		t.Fatalf("ExportAccount() error: %v", err)
	}
	if exported.KDF == nil || *exported.KDF != newParams {
		t.Errorf("exported KDF = %+v, want %+v", exported.KDF, newParams)
	}
	fresh, _ := ks2.CreateAccount([]byte("pass"))
	if r, _ := fresh.Record(); r.KDF == nil || *r.KDF != newParams {
		t.Errorf("new record KDF = %+v, want %+v", r.KDF, newParams)
	}
}

func TestSecureRecord_MissingKDFUsesInteractive(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, SeedSize)
	rec, err := sealRecord(seed, []byte("pass"), InteractiveParams(), rand.Reader, types.MainnetHRP)
	if err != nil {
		t.Fatalf("sealRecord() error: %v", err)
	}
	rec.KDF = nil
	blob, _ := rec.Marshal()
	if strings.Contains(string(blob), `"kdf"`) {
		t.Fatalf("record without KDF marshals a kdf field: %s", blob)
	}

	parsed, err := UnmarshalRecord(blob)
	if err != nil {
		t.Fatalf("UnmarshalRecord() error: %v", err)
	}
	got, err := parsed.openSeed([]byte("pass"))
	if err != nil {
		t.Fatalf("openSeed() error: %v", err)
	}
	if !bytes.Equal(got, seed) {
		t.Error("opened seed differs")
	}
}

func TestKeyStore_ConcurrentWrites(t *testing.T) {
	ks := testKeyStore(t)
	const n = 50

	accts := make([]*Account, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct, err := ks.CreateAccount([]byte("p"))
			if err != nil {
				errs[i] = err
				return
			}
			accts[i] = acct
			errs[i] = ks.SetExtra(acct, []byte(fmt.Sprintf("label-%d", i)))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d error: %v", i, errs[i])
		}
		if seen[accts[i].Key()] {
			t.Fatalf("slot %s issued twice", accts[i].Key())
		}
		seen[accts[i].Key()] = true
	}
	if count, _ := ks.Count(); count != n {
		t.Fatalf("Count() = %d, want %d", count, n)
	}
	for i, acct := range accts {
		extra, err := acct.Extra()
		if err != nil || string(extra) != fmt.Sprintf("label-%d", i) {
			t.Errorf("account %s extra = %q, %v", acct.Key(), extra, err)
		}
	}

	// Removals and creations racing each other.
	const removals = 10
	for i := 0; i < removals; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if ok, err := ks.Remove(0); !ok || err != nil {
				t.Errorf("Remove(0) = %v, %v", ok, err)
			}
		}()
		go func() {
			defer wg.Done()
			acct, err := ks.CreateAccount([]byte("p"))
			if err != nil {
				t.Errorf("CreateAccount() error: %v", err)
				return
			}
			if k := acct.Key(); seen[k] {
				t.Errorf("slot %s reused after removal", k)
			}
		}()
	}
	wg.Wait()
	if count, _ := ks.Count(); count != n {
		t.Errorf("Count() after removals = %d, want %d", count, n)
	}
	accounts, _ := ks.Accounts()
	keys := make(map[string]bool)
	for _, a := range accounts {
		if keys[a.Key()] {
			t.Errorf("slot %s listed twice", a.Key())
		}
		keys[a.Key()] = true
	}
}

func TestKeyStore_SetExtra(t *testing.T) {
	ks := testKeyStore(t)
	acct, _ := ks.CreateAccount([]byte("pass"))
	before, _ := acct.Record()

	if err := ks.SetExtra(acct, []byte(`{"name":"savings"}`)); err != nil {
		t.Fatalf("SetExtra() error: %v", err)
	}

	// A fresh handle sees the persisted value.
	fresh, _ := ks.AccountAt(0)
	extra, err := fresh.Extra()
	if err != nil {
		t.Fatalf("Extra() error: %v", err)
	}
	if string(extra) != `{"name":"savings"}` {
		t.Errorf("Extra() = %q", extra)
	}

	after, _ := fresh.Record()
	if after.Seed != before.Seed || after.Salt != before.Salt || after.PublicKey != before.PublicKey {
		t.Error("SetExtra must not touch the sealed fields")
	}

	// Clearing.
	ks.SetExtra(acct, nil)
	extra, _ = acct.Extra()
	if extra != nil {
		t.Errorf("Extra() after clear = %q, want nil", extra)
	}
}

func TestKeyStore_IndexMonotonicity(t *testing.T) {
	ks := testKeyStore(t)
	var addrs []types.Address
	for i := 0; i < 3; i++ {
		acct, err := ks.CreateAccount([]byte("p"))
		if err != nil {
			t.Fatalf("CreateAccount() error: %v", err)
		}
		a, _ := acct.Address()
		addrs = append(addrs, a)
	}

	ok, err := ks.Remove(1)
	if err != nil || !ok {
		t.Fatalf("Remove(1) = %v, %v", ok, err)
	}

	if n, _ := ks.Count(); n != 2 {
		t.Fatalf("Count() = %d, want 2", n)
	}

	first, _ := ks.AccountAt(0)
	second, _ := ks.AccountAt(1)
	if first.Key() != "000000" || second.Key() != "000002" {
		t.Errorf("AccountAt keys = %s, %s, want 000000, 000002", first.Key(), second.Key())
	}
	if a, _ := second.Address(); a != addrs[2] {
		t.Error("AccountAt(1) should be the account created third")
	}

	next, _ := ks.CreateAccount([]byte("p"))
	if next.Key() != "000003" {
		t.Errorf("next key = %s, want 000003", next.Key())
	}

	if _, err := ks.AccountAt(5); !errors.Is(err, walleterr.ErrLoadFailed) {
		t.Errorf("AccountAt(5) error = %v, want LoadFailed", err)
	}
	if ok, err := ks.Remove(9); ok || err != nil {
		t.Errorf("Remove(9) = %v, %v, want false, nil", ok, err)
	}
}

func TestKeyStore_RemoveAll(t *testing.T) {
	ks := testKeyStore(t)
	ks.CreateAccount([]byte("p"))
	ks.CreateAccount([]byte("p"))

	if err := ks.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll() error: %v", err)
	}
	if n, _ := ks.Count(); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
	accts, _ := ks.Accounts()
	if len(accts) != 0 {
		t.Errorf("Accounts() = %d entries, want 0", len(accts))
	}
}

func TestKeyStore_Persistence(t *testing.T) {
	db, err := storage.NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	defer db.Close()

	ks1 := NewKeyStore(db, WithKDFParams(fastParams()))
	acct, _ := ks1.CreateAccount([]byte("p"))
	want, _ := acct.Address()

	ks2 := NewKeyStore(db, WithKDFParams(fastParams()))
	got, err := ks2.AccountAt(0)
	if err != nil {
		t.Fatalf("AccountAt() error: %v", err)
	}
	if a, _ := got.Address(); a != want {
		t.Error("second keystore over the same db sees a different account")
	}
}

func TestAccount_WithSigner(t *testing.T) {
	ks := testKeyStore(t)
	acct, _ := ks.CreateAccount([]byte("pass"))
	pub, _ := acct.PublicKey()

	var leaked crypto.SignFunc
	err := acct.WithSigner([]byte("pass"), func(sign crypto.SignFunc) error {
		sig, err := sign([]byte("m"))
		if err != nil {
			return err
		}
		if !crypto.VerifySignature([]byte("m"), sig, pub) {
			t.Error("capability produced an invalid signature")
		}
		leaked = sign
		return nil
	})
	if err != nil {
		t.Fatalf("WithSigner() error: %v", err)
	}

	if _, err := leaked([]byte("m")); !errors.Is(err, walleterr.ErrNoSecretKey) {
		t.Errorf("signer after release error = %v, want NoSecretKey", err)
	}
}

func TestUnmarshalRecord(t *testing.T) {
	ks := testKeyStore(t)
	acct, _ := ks.CreateAccount([]byte("p"))
	rec, _ := acct.Record()
	blob, _ := rec.Marshal()

	// Unknown fields are tolerated.
	withUnknown := append(blob[:len(blob)-1], []byte(`,"version":2}`)...)
	if _, err := UnmarshalRecord(withUnknown); err != nil {
		t.Errorf("UnmarshalRecord() with unknown field error: %v", err)
	}

	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", "{", walleterr.ErrDecodingFailed},
		{"no pkey", `{"seed":"aa","salt":"bb"}`, walleterr.ErrDecodingFailed},
		{"no seed", `{"pkey":"` + rec.PublicKey + `","salt":"bb"}`, walleterr.ErrNoSeed},
		{"no salt", `{"pkey":"` + rec.PublicKey + `","seed":"aa"}`, walleterr.ErrNoSalt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalRecord([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("UnmarshalRecord() error = %v, want %v", err, tt.want)
			}
		})
	}
}
