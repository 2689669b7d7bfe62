// Package config loads the TOML-backed Config structs that back the two
// library entry points spec §6 pins down: Worker::spawn(config) and
// Client::new(config). There is no CLI/flag layer (spec §1 excludes "CLI,
// configuration file parsing... all peripheral" as an outer surface); this
// package only supplies the struct and its TOML loader, matching how the
// teacher's own go.mod already depends on github.com/BurntSushi/toml for
// exactly this purpose.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dedis/prenet/client"
	"github.com/dedis/prenet/condition"
	"github.com/dedis/prenet/fleet"
	"github.com/dedis/prenet/oracle"
	"github.com/dedis/prenet/worker"
)

// WorkerConfig backs Worker::spawn(config).
type WorkerConfig struct {
	Domain               string
	NetworkAddress       string
	OperatorAddress      string
	ProtocolVersionMajor uint8
	ProtocolVersionMinor uint8
	MaxInflight          int
	MaxSnapshotAge       time.Duration
	RetryBudget          int

	KeyStorePath   string
	KFragStorePath string
	AuditLogPath   string

	Learning LearningConfig
}

// LearningConfig mirrors fleet.LearningConfig's tunables for TOML loading;
// a separate struct keeps the fleet package free of a toml dependency
// (spec §9: fleet's learning loop has no analogue in the teacher and
// should not carry ambient-stack concerns beyond what it needs).
type LearningConfig struct {
	PeersPerRound     int
	ExchangeTimeout   time.Duration
	StaleAfter        time.Duration
	ColdRetryInterval time.Duration
	EvictAfter        time.Duration
	ConflictWindow    time.Duration
	RoundInterval     time.Duration
	Jitter            time.Duration
}

func (c LearningConfig) ToFleet(domain string, version fleet.ProtocolVersion) fleet.LearningConfig {
	out := fleet.DefaultLearningConfig(domain, version)
	if c.PeersPerRound != 0 {
		out.PeersPerRound = c.PeersPerRound
	}
	if c.ExchangeTimeout != 0 {
		out.ExchangeTimeout = c.ExchangeTimeout
	}
	if c.StaleAfter != 0 {
		out.StaleAfter = c.StaleAfter
	}
	if c.ColdRetryInterval != 0 {
		out.ColdRetryInterval = c.ColdRetryInterval
	}
	if c.EvictAfter != 0 {
		out.EvictAfter = c.EvictAfter
	}
	if c.ConflictWindow != 0 {
		out.ConflictWindow = c.ConflictWindow
	}
	if c.RoundInterval != 0 {
		out.RoundInterval = c.RoundInterval
	}
	if c.Jitter != 0 {
		out.Jitter = c.Jitter
	}
	return out
}

// ClientConfig backs Client::new(config).
type ClientConfig struct {
	Domain           string
	OperatorAddress  string // the delegator's own operator address, carried on enact_policy calls
	RetryBudget      int
	RetrieveDeadline time.Duration
	ExchangeTimeout  time.Duration
	ReplicationN     int // default retrieval fan-out beyond the policy's n, if any
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ProtocolVersionMajor: 1,
		MaxInflight:          64,
		MaxSnapshotAge:       10 * time.Minute,
		RetryBudget:          3,
		KeyStorePath:         "./data/worker.key",
		KFragStorePath:       "./data/kfrags",
		AuditLogPath:         "./data/audit.log",
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RetryBudget:      3,
		RetrieveDeadline: 30 * time.Second,
		ExchangeTimeout:  5 * time.Second,
	}
}

// LoadWorkerConfig reads and decodes a WorkerConfig from a TOML file,
// applying defaults for anything left zero.
func LoadWorkerConfig(path string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig reads and decodes a ClientConfig from a TOML file.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// Spawn implements the library entry point spec §6 names
// Worker::spawn(config) → handle: it opens the on-disk key material,
// kfrag store and audit log this config points at and wires them into a
// running worker.Service. Key-vault passphrase handling is spec §1's
// peripheral concern, so the passphrase itself is taken as a parameter
// rather than stored in the TOML file.
func (c WorkerConfig) Spawn(passphrase string, identity *fleet.WorkerIdentity, orc oracle.Oracle, cond condition.Evaluator, fl *fleet.Fleet) (*worker.Service, error) {
	keys, err := worker.LoadKeyMaterial(c.KeyStorePath, passphrase)
	if err != nil {
		return nil, err
	}
	kfrags, err := worker.NewKFragStore(c.KFragStorePath)
	if err != nil {
		return nil, err
	}
	audit, err := worker.NewAuditor(c.AuditLogPath)
	if err != nil {
		return nil, err
	}
	wcfg := worker.Config{
		Domain:          c.Domain,
		ProtocolVersion: fleet.ProtocolVersion{Major: c.ProtocolVersionMajor, Minor: c.ProtocolVersionMinor},
		MaxInflight:     int64(c.MaxInflight),
		MaxSnapshotAge:  c.MaxSnapshotAge,
	}
	return worker.Spawn(wcfg, identity, keys, kfrags, orc, cond, fl, audit), nil
}

// Client is the handle spec §6 names Client::new(config) → handle: a
// Delegator and a Retriever sharing the same Peer Fleet, transport and
// retry/deadline tunables loaded from a ClientConfig.
type Client struct {
	Delegator        *client.Delegator
	Retriever        *client.Retriever
	RetrieveDeadline time.Duration
}

// NewClient implements Client::new(config) → handle.
func (c ClientConfig) NewClient(delegatorKeys client.DelegatorKeys, retrieverKeys client.RetrieverKeys, fl *fleet.Fleet, transport client.WorkerTransport) *Client {
	return &Client{
		Delegator:        client.NewDelegator(delegatorKeys, fl, transport, c.OperatorAddress, c.RetryBudget),
		Retriever:        client.NewRetriever(retrieverKeys, fl, transport),
		RetrieveDeadline: c.RetrieveDeadline,
	}
}
