// Package keyring resolves per-organization data encryption keys.
//
// # Key Hierarchy
//
// Every vCD organization that holds encrypted metadata owns one random data
// encryption key (DEK). Record values are encrypted directly under that DEK.
//
// The DEK itself is stored in the organization's metadata under the reserved
// key "enc", encrypted under a key encryption key (KEK) derived from the
// string "<organization id>@<operator password>". Binding the organization id
// into the KEK means the same operator password never yields the same wrapping
// key for two organizations.
//
// DEKs are created lazily the first time an organization needs one and are
// never rotated. Creation is a plain read-then-write against the platform, so
// two concurrent first uses of the same organization can each create a key;
// the last write wins.
package keyring
