/*
Package security provides cryptographic services for fleetctl clusters.

This package implements three core security capabilities: secrets encryption
using AES-256-GCM, a Certificate Authority (CA) for mutual TLS (mTLS), and
certificate lifecycle management on disk. Together, these components provide
encryption at rest for sensitive data and mTLS authentication for the node
RPC transport (pkg/rpc) and the CLI's connection to the master.

# Architecture

Security is built on three pillars:

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Architecture                    │
	└─────┬───────────────────────┬──────────────────┬────────────┘
	      │                       │                  │
	      ▼                       ▼                  ▼
	┌─────────────┐      ┌────────────────┐   ┌──────────────┐
	│   Secrets   │      │       CA       │   │ Certificate  │
	│ Encryption  │      │  (Root only)   │   │  Management  │
	└─────┬───────┘      └────────┬───────┘   └──────┬───────┘
	      │                       │                   │
	      ▼                       ▼                   ▼
	  AES-256-GCM         RSA 4096-bit          90-day rotation
	  Secret.Data         10-year validity      Manual renewal

## Cluster Encryption Key

All at-rest encryption is rooted in the cluster encryption key, a 32-byte
key derived from the cluster ID:

	clusterKey = SHA-256(clusterID)  // 32 bytes for AES-256

This key encrypts:
  - Secrets (types.Secret.Data, via SecretsManager)
  - The CA's root private key, as stored by config.Store

The key lives only in memory on the master and must be supplied again
(derived from the cluster ID) whenever the master process restarts.

# Secrets Encryption

## SecretsManager

SecretsManager encrypts and decrypts arbitrary secret data (credentials,
tokens) using AES-256 in Galois/Counter Mode (GCM), providing authenticated
encryption:

	Plaintext → AES-256-GCM → Ciphertext + Authentication Tag
	                ↑
	            32-byte key

Key properties:
  - Authenticated encryption (integrity + confidentiality)
  - Random nonce per encryption (no nonce reuse)
  - Fast performance (~100MB/s on modern CPUs)

## Encryption Process

 1. Generate random 12-byte nonce
 2. Encrypt plaintext with AES-256-GCM
 3. Prepend nonce to ciphertext
 4. Store combined bytes: [nonce || ciphertext || tag]

## Secret Storage Format

A types.Secret carries the encrypted blob produced above:

	Secret {
		ID:   "secret-abc123"
		Name: "registry-auth"
		Data: [nonce || ciphertext || tag]  // binary
	}

Decryption reverses the process:

 1. Extract nonce (first 12 bytes)
 2. Extract ciphertext + tag (remaining bytes)
 3. Decrypt and verify the authentication tag
 4. Return plaintext, or an error if the data was tampered with

# Certificate Authority

## Root CA

The cluster CA is a single self-signed root with a long validity window:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key (high security, infrequent use)
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN={clusterName} Root CA, O={clusterName} cluster

The root CA is created once during cluster initialization and stored
encrypted under the cluster key:

	Root Certificate: stored via config.Store.SaveCA (plaintext, public)
	Root Private Key: encrypted with the cluster key before storage

## Node Certificates

The CA issues a certificate for every node (master-candidate or regular)
in the cluster:

	Node Certificate
	├── 90-day validity
	├── RSA 2048-bit key (faster operations)
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ServerAuth, ClientAuth
	├── Subject: CN={role}-{nodeID}.{clusterName}, O={clusterName} cluster
	├── DNS Names: [node hostname]
	└── IP Addresses: [node IP]

Each node receives a unique certificate so the node RPC transport
(pkg/rpc) can authenticate both ends of an mTLS connection:

	Master ←→ mTLS ←→ Node
	   ↓                ↓
	CA verifies      CA verifies
	node cert        master cert

## Client Certificates

The fleetctl CLI also receives a certificate so it can talk to the
master's job submission endpoint without a separate auth mechanism:

	CLI Certificate
	├── 90-day validity
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ClientAuth
	└── Subject: CN=cli-{clientID}.{clusterName}, O={clusterName} cluster

# Usage Examples

## Creating a Secrets Manager

	import "github.com/cuemby/fleetctl/pkg/security"

	// From a raw key (32 bytes)
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		panic(err)
	}
	sm, err := security.NewSecretsManager(key)
	if err != nil {
		panic(err)
	}

	// Or from a password (key derived via SHA-256)
	sm, err = security.NewSecretsManagerFromPassword("cluster-secret")
	if err != nil {
		panic(err)
	}

## Encrypting and Decrypting Secrets

	plaintext := []byte("registry-token")
	ciphertext, err := sm.EncryptSecret(plaintext)
	if err != nil {
		panic(err)
	}

	// ... store ciphertext ...

	decrypted, err := sm.DecryptSecret(ciphertext)
	if err != nil {
		panic(err)  // tampering detected or wrong key
	}

## Creating a Secret Record

	secret, err := sm.CreateSecret("registry-token", []byte("my-token"))
	if err != nil {
		panic(err)
	}
	fmt.Println("Secret ID:", secret.ID)

	plaintext, err := sm.GetSecretData(secret)
	if err != nil {
		panic(err)
	}

## Setting Up the Certificate Authority

	import (
		"github.com/cuemby/fleetctl/pkg/config"
		"github.com/cuemby/fleetctl/pkg/security"
	)

	store, err := config.NewBoltStore("/var/lib/fleetctl/master/fleetctl.db")
	if err != nil {
		panic(err)
	}

	clusterID := "prod-east"
	clusterKey := security.DeriveKeyFromClusterID(clusterID)
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		panic(err)
	}

	ca := security.NewCertAuthority(store, clusterID)
	if err := ca.Initialize(); err != nil {
		panic(err)
	}
	if err := ca.SaveToStore(); err != nil {
		panic(err)
	}

## Issuing a Node Certificate

	nodeID := "node-1"
	role := "master-candidate"
	dnsNames := []string{"node1.cluster.local", "localhost"}
	ipAddresses := []net.IP{
		net.ParseIP("192.168.1.10"),
		net.ParseIP("127.0.0.1"),
	}

	tlsCert, err := ca.IssueNodeCertificate(nodeID, role, dnsNames, ipAddresses)
	if err != nil {
		panic(err)
	}

## Verifying Certificates

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		panic(err)
	}
	if err := ca.VerifyCertificate(cert); err != nil {
		panic(err) // not issued by this CA, or otherwise invalid
	}

## Certificate Rotation

	if security.CertNeedsRotation(cert) {
		newTLSCert, err := ca.IssueNodeCertificate(nodeID, role, dnsNames, ipAddresses)
		if err != nil {
			panic(err)
		}
		certDir, _ := security.GetCertDir(role, nodeID)
		if err := security.SaveCertToFile(newTLSCert, certDir); err != nil {
			panic(err)
		}
	}

# Integration Points

## Storage Integration

The root CA is the only artifact this package asks config.Store to persist
directly:

	SaveCA([]byte) / GetCA() []byte  // JSON-encoded CAData, key encrypted

types.Secret values are not given a storage home by this package; a caller
that wants to persist one chooses its own bucket/table and stores the
already-encrypted Data field.

## RPC Transport Integration

pkg/rpc's HTTPS client and server take a CA-issued certificate and the
root CA certificate as arguments (neither loads them from disk itself)
and configure mTLS with tls.Config{ClientAuth: tls.RequireAndVerifyClientCert}
on the server side and a RootCAs pool on the client side.

# Design Patterns

## Authenticated Encryption

GCM mode provides both confidentiality and integrity:

	Encryption:  plaintext + key + nonce → ciphertext + tag
	Decryption:  ciphertext + tag + key + nonce → plaintext (or error)

A modified ciphertext, wrong key, or wrong nonce all make decryption fail
closed rather than return corrupted plaintext.

## Single-Level PKI

The CA is a flat hierarchy: one root signs every node and client
certificate directly, with no intermediate tier.

	Root CA (trust anchor)
	└── Node / Client Certificates (issued by root)

## Key Derivation

The cluster encryption key is derived deterministically:

	clusterKey = SHA-256(clusterID)

Same cluster ID always yields the same key, so the key never needs its own
backup beyond the cluster ID itself.

## Certificate Caching

CertAuthority caches issued certificates in memory, keyed by node or
client ID, to avoid recomputation:

	certCache[nodeID] = {Cert, Key, IssuedAt, ExpiresAt}

# Performance Characteristics

## Encryption Performance

AES-256-GCM is hardware-accelerated on modern CPUs (AES-NI):

  - Encryption/decryption: ~100-200 MB/s per core
  - Small secrets (< 1KB): ~1-2us per operation

## Certificate Issuance Performance

  - Root CA generation (RSA 4096): ~500ms, one-time at cluster init
  - Node cert generation (RSA 2048): ~50-100ms
  - Certificate verification: ~1-2ms

## Memory Usage

  - SecretsManager: ~1KB (just the key)
  - CertAuthority: ~100KB (root cert + cache)
  - Per-node certificate: ~2KB

# Security Considerations

## Key Management

The cluster encryption key is the single point of failure for at-rest
confidentiality:

  - Compromise exposes every encrypted secret and the CA's private key
  - Loss makes stored secrets and the persisted CA unrecoverable
  - The key is always re-derived from the cluster ID, never stored raw

## Certificate Rotation

Certificates expire after 90 days (nodes/clients) or 10 years (root CA).
Rotation is manual: CertNeedsRotation reports when a certificate has less
than 30 days remaining, and the caller is responsible for calling
IssueNodeCertificate again and replacing the files on disk.

## Threat Model

This package protects against:

	- Network eavesdropping (TLS encryption)
	- Unauthorized RPC access (mTLS authentication)
	- Secret tampering at rest (authenticated encryption)
	- Impersonation of a node or client (CA-signed certificates)

This package does NOT protect against:

	- A compromised cluster encryption key (all secrets exposed)
	- A compromised CA private key (attacker can issue trusted certificates)
	- A compromised master process (full access to cluster state)
	- Physical access to storage while the master process is running
	  (the key lives in memory, decrypted, for the process lifetime)

# Troubleshooting

## Secret Decryption Failures

  - Check the cluster encryption key is the one SetClusterEncryptionKey
    was called with when the secret was created
  - Check ciphertext length (>= 28 bytes: 12-byte nonce + 16-byte tag)
  - A modified ciphertext fails GCM's tag check rather than decrypting
    to garbage

## Certificate Verification Failures

  - Confirm the CA was loaded (LoadFromStore) before VerifyCertificate
  - Check NotBefore/NotAfter against the current time
  - Check the certificate's DNS names and IP addresses against the
    endpoint being dialed

# See Also

  - pkg/config - persists the encrypted CA (SaveCA / GetCA)
  - pkg/rpc - the mTLS transport this package issues certificates for
*/
package security
