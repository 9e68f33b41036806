// Package shielded implements the encrypted and authenticated session between
// the host and the secure element.
//
// # Session Lifecycle
//
//	UNESTABLISHED --Hello--> ESTABLISHING --Complete--> ESTABLISHED
//	ESTABLISHED --integrity failure, counter exhaustion, Teardown--> INVALID
//	INVALID --Hello (full re-establishment)--> ESTABLISHING
//
// There is no silent retry out of INVALID: a replayed or modified record may
// be an attack, so the caller has to run a fresh handshake or restore a
// saved context.
//
// # Handshake
//
// Key agreement uses the 64-byte pre-shared platform binding secret:
//
//	host   -> [0x00][VERSION]
//	device -> [0x00][VERSION][RANDOM(32)][SEQ(4)]
//	host   -> [0x08][SEQ(4)][SEAL(RANDOM || SEQ)]
//	device -> [0x08][SEQ(4)][SEAL(RANDOM || SEQ)]
//
// The provider derives 40 bytes of key material from the secret and the
// device random: encryption key, decryption key and two 4-byte nonce salts.
//
// # Records
//
//	[0x20][SEQ(4)][CIPHERTEXT...][TAG(8)]
//
// The nonce is the direction's salt followed by SEQ; the additional data is
// [SCTR][SEQ][VERSION][LEN(2)]. Each direction's counter advances by exactly
// one per record. Unprotect accepts only the next counter value and moves the
// channel to INVALID on anything else.
//
// # Providers
//
// The cipher and key schedule are pluggable. Three providers are registered:
//
//	aes128-ccm-tls-prf  TLS-PRF-SHA256, AES-128-CCM   encrypt+authenticate (default)
//	aes128-ccm-hkdf     HKDF-SHA256,    AES-128-CCM   encrypt+authenticate
//	aes128-ctr-hkdf     HKDF-SHA256,    AES-128-CTR   encrypt only
//
// Commands carry the level they need; Require fails closed when the session
// provides a different level.
//
// # Persistence
//
// Save returns a CBOR blob sealed under a key derived from the secret; Restore
// resumes the session with the saved counters so that no sequence number is
// ever reused.
package shielded
