// Package crypto provides the authenticated encryption used by lockersim.
//
// Blobs use AES-256-GCM with:
//   - 12-byte random nonce per Seal call, prepended to the output
//   - 16-byte authentication tag appended by GCM
//   - associated data bound into the tag (lockersim passes the file name)
//
// The layout is nonce || ciphertext || tag with no header or version byte.
//
// Key-encryption keys for the file key store are derived with
// PBKDF2-HMAC-SHA256 (32-byte salt, 210,000 iterations).
package crypto
