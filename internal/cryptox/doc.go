// Package cryptox implements the envelope encryption used for data at rest
// and for portable backups.
//
// # Envelope
//
// Every encrypted value is a single base64 string:
//
//	base64( salt[32] || iv[12] || AES-256-GCM ciphertext || tag[16] )
//
// The AES key is derived per call with PBKDF2-HMAC-SHA256 over a fresh random
// salt and a secret. For data at rest the secret is the ambient user
// identifier supplied by an IdentifierSource (see internal/identity); for
// backups it is a user-supplied password of at least MinPasswordLength
// characters.
//
// Decryption never returns partially valid plaintext: a wrong secret, a
// truncated or malformed envelope, or any modified byte yields ErrDecryption.
package cryptox
