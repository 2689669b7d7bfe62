package worker

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
	"github.com/dedis/prenet/wire"
)

// PolicyRecord is the metadata a worker keeps about a policy it holds a
// kfrag for, enough to answer UnknownPolicy/PolicyExpired and to consult
// the Authorization Oracle about the delegator's continued standing (spec
// §4.D steps 3 and 5).
type PolicyRecord struct {
	PolicyID                []byte
	DelegatorOperatorAddress string
	ExpiresAt                time.Time
}

type kfragEntry struct {
	Record PolicyRecord
	VK     *crypto.VerifiedKeyFragment
}

// KFragStore is a worker's per-policy kfrag store (spec §6: "kfrag store
// keyed by (policy_id)"; spec §5 shared-resource policy: "strict
// single-writer (enactment) and many-reader (reencrypt); readers never
// block writers because kfrags, once written, are immutable until
// deletion"). Reads take RLock, writes/deletes take Lock; within a held
// lock kfrags themselves are never mutated in place.
type KFragStore struct {
	dir string
	mu  sync.RWMutex
	mem map[string]kfragEntry
}

// NewKFragStore opens (and creates if absent) a directory-backed store.
func NewKFragStore(dir string) (*KFragStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &KFragStore{dir: dir, mem: make(map[string]kfragEntry)}, nil
}

func policyKey(hrac wire.HRAC) string {
	return hex.EncodeToString(hrac[:])
}

type onDiskEntry struct {
	Record    PolicyRecord
	KFragHex  string
}

// Put enacts a policy, writing the kfrag and its policy record to disk and
// caching both in memory. Enactment is the store's single writer (spec
// §5); callers serialize concurrent enactments for the same HRAC
// themselves if that matters to them — the store does not reorder writes
// to the same key.
func (s *KFragStore) Put(hrac wire.HRAC, rec PolicyRecord, vk *crypto.VerifiedKeyFragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	onDisk := onDiskEntry{Record: rec, KFragHex: hex.EncodeToString(wire.EncodeKFrag(vk.KeyFragment))}
	raw, err := json.Marshal(onDisk)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, policyKey(hrac)+".kfrag")
	if err := atomicWrite(path, raw); err != nil {
		return err
	}
	s.mem[policyKey(hrac)] = kfragEntry{Record: rec, VK: vk}
	return nil
}

// Get implements the reencrypt pipeline's kfrag lookup (spec §4.D step 3):
// KFragNotHeld if this worker never received a kfrag for the policy.
func (s *KFragStore) Get(hrac wire.HRAC) (PolicyRecord, *crypto.VerifiedKeyFragment, error) {
	s.mu.RLock()
	if e, ok := s.mem[policyKey(hrac)]; ok {
		s.mu.RUnlock()
		return e.Record, e.VK, nil
	}
	s.mu.RUnlock()

	path := filepath.Join(s.dir, policyKey(hrac)+".kfrag")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PolicyRecord{}, nil, errs.KFragNotHeld
		}
		return PolicyRecord{}, nil, err
	}
	var onDisk onDiskEntry
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return PolicyRecord{}, nil, err
	}
	kfragRaw, err := hex.DecodeString(onDisk.KFragHex)
	if err != nil {
		return PolicyRecord{}, nil, errs.MalformedFrame
	}
	kf, err := wire.DecodeKFrag(kfragRaw)
	if err != nil {
		return PolicyRecord{}, nil, err
	}
	vk := &crypto.VerifiedKeyFragment{KeyFragment: kf}

	s.mu.Lock()
	s.mem[policyKey(hrac)] = kfragEntry{Record: onDisk.Record, VK: vk}
	s.mu.Unlock()
	return onDisk.Record, vk, nil
}

// Delete implements policy expiry/revocation (spec §3 Arrangement
// lifecycle: "destroyed when the policy expires or is revoked").
func (s *KFragStore) Delete(hrac wire.HRAC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mem, policyKey(hrac))
	path := filepath.Join(s.dir, policyKey(hrac)+".kfrag")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
