// Package core implements the locker engine: sealing every plaintext file
// of a directory into a "<name>.gcm" blob and restoring it again.
//
// Blob format:
//
//	nonce (12 bytes) || ciphertext || GCM tag (16 bytes)
//
// The original file name is the additional authenticated data, so a blob
// only opens under the name it was locked with. Renaming "a.txt.gcm" to
// "b.txt.gcm" makes unlock fail for that file instead of producing b.txt.
//
// Batches never abort on a per-file error. Each failure is classified
// (authentication_failed, malformed_blob, io_error, conflict) and reported
// in the Result next to the files that were transformed.
//
// Output files are published durably before the input is removed: the
// engine writes a temp file, syncs it, links it into place, syncs the
// directory, and only then deletes the source. A crash at any point leaves
// at least one complete copy of the data.
package core
