// Package manifest parses provisioning manifests: hex-encoded files listing
// the data object writes that bring a secure element into its deployed
// state.
//
// # File Format
//
// A header line followed by row lines, all hex-encoded. Empty lines and
// lines starting with '#' are ignored.
//
// Header Format (4 hex characters):
//
//	[Version(2)][Protection(2)]
//
// Protection is the shielded level used for every write: 00 plaintext,
// 01 encrypted, 02 encrypted and authenticated.
//
// Row Format (variable length, multi-byte fields big-endian):
//
//	[OID(4)][Mode(2)][Offset(4)][DataLen(4)][Data(variable)][Checksum(2)]
//
// Mode is 00 (write), 40 (erase and write) or 01 (metadata). The checksum is
// the two's complement of the byte sum of everything before it.
//
// Example:
//
//	# arbitrary data object 1, plaintext
//	0100
//	F1D000000000040102030431
//
// # Usage
//
//	m, err := manifest.Parse("provision.tmf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := m.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	err = dev.Provision(ctx, m)
package manifest
