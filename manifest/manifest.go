package manifest

import (
	"fmt"

	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
)

// Manifest is a parsed provisioning file.
type Manifest struct {
	// Version is the file format version
	Version byte

	// Protection is the shielded level every write of the manifest uses
	Protection shielded.Level

	// Rows are the data object writes, in file order
	Rows []*Row
}

// Row is one data object write.
type Row struct {
	// OID is the target data object
	OID uint16

	// Mode is protocol.ParamWrite, ParamEraseAndWrite or ParamWriteMetadata
	Mode byte

	// Offset is where Data lands in the object
	Offset uint16

	// Data is written verbatim
	Data []byte

	// Checksum is the row checksum from the file
	Checksum byte
}

// Metadata reports whether the row writes object metadata rather than data.
func (r *Row) Metadata() bool {
	return r.Mode == protocol.ParamWriteMetadata
}

// Bytes returns the total payload size of all rows.
func (m *Manifest) Bytes() int {
	n := 0
	for _, row := range m.Rows {
		n += len(row.Data)
	}
	return n
}

// Validate checks rows against objects the element never lets a host write.
func (m *Manifest) Validate() error {
	for i, row := range m.Rows {
		switch row.OID {
		case protocol.OIDLastErrorCode, protocol.OIDCoprocessorUID:
			return fmt.Errorf("row %d: object 0x%04X is read-only", i, row.OID)
		}
		if int(row.Offset)+len(row.Data) > protocol.MaxPayloadLength {
			return fmt.Errorf("row %d: write ends past offset 0x%04X", i, protocol.MaxPayloadLength)
		}
	}
	return nil
}
