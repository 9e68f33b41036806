package manifest

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
)

// Constants for manifest file parsing.
const (
	// HeaderLength is the expected length of the header line in hex characters
	HeaderLength = 4

	// FormatVersion is the only supported file format version
	FormatVersion = 0x01

	// RowHeaderSize is OID(2) + MODE(1) + OFFSET(2) + LEN(2)
	RowHeaderSize = 7

	// RowChecksumSize is the size of the row checksum field
	RowChecksumSize = 1

	// MinimumRowLength is the minimum length of a row line in hex characters
	MinimumRowLength = 2 * (RowHeaderSize + RowChecksumSize)

	// DefaultRowCapacity is the initial capacity for the rows slice
	DefaultRowCapacity = 16

	// CommentPrefix starts a line that is ignored
	CommentPrefix = "#"
)

// Parse parses a manifest file from the given path.
//
// Example:
//
//	m, err := manifest.Parse("provision.tmf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d rows, %d bytes\n", len(m.Rows), m.Bytes())
func Parse(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader parses a manifest from any io.Reader.
func ParseReader(r io.Reader) (*Manifest, error) {
	scanner := bufio.NewScanner(r)
	// Rows can carry a whole certificate.
	scanner.Buffer(make([]byte, 0, 4096), 2*(RowHeaderSize+protocol.MaxPayloadLength+RowChecksumSize)+2)

	var (
		m       *Manifest
		lineNum int
	)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, CommentPrefix) {
			continue
		}

		if m == nil {
			header, err := parseHeader(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: failed to parse header: %w", lineNum, err)
			}
			m = header
			continue
		}

		row, err := parseRow(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		m.Rows = append(m.Rows, row)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("empty file")
	}
	if len(m.Rows) == 0 {
		return nil, fmt.Errorf("no rows found in file")
	}
	return m, nil
}

// parseHeader parses the manifest header.
//
// Header format (4 hex characters):
//
//	[Version(1 byte)][Protection(1 byte)]
//
// Example: "0102" = version 1, writes encrypted and authenticated.
func parseHeader(line string) (*Manifest, error) {
	if len(line) != HeaderLength {
		return nil, fmt.Errorf("invalid header length: got %d characters, expected %d", len(line), HeaderLength)
	}

	data, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}

	if data[0] != FormatVersion {
		return nil, fmt.Errorf("unsupported version: 0x%02X", data[0])
	}

	level := shielded.Level(data[1])
	switch level {
	case shielded.LevelNone, shielded.LevelEncrypt, shielded.LevelEncryptAuthenticate:
	default:
		return nil, fmt.Errorf("invalid protection level: 0x%02X", data[1])
	}

	return &Manifest{
		Version:    data[0],
		Protection: level,
		Rows:       make([]*Row, 0, DefaultRowCapacity),
	}, nil
}

// parseRow parses a single row line.
//
// Row format (all multi-byte fields big-endian):
//
//	[OID(2)][Mode(1)][Offset(2)][DataLen(2)][Data(N)][Checksum(1)]
//
// Example: "F1D000000000040102030431"
//
//	OID: 0xF1D0
//	Mode: 0x00 (write)
//	Offset: 0x0000
//	DataLen: 0x0004
//	Data: [0x01, 0x02, 0x03, 0x04]
//	Checksum: 0x31
func parseRow(line string) (*Row, error) {
	if len(line) < MinimumRowLength {
		return nil, fmt.Errorf("row too short: got %d characters, minimum is %d", len(line), MinimumRowLength)
	}

	data, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}

	oid := binary.BigEndian.Uint16(data[0:2])
	mode := data[2]
	offset := binary.BigEndian.Uint16(data[3:5])
	dataLen := int(binary.BigEndian.Uint16(data[5:7]))

	expectedLen := RowHeaderSize + dataLen + RowChecksumSize
	if len(data) != expectedLen {
		return nil, fmt.Errorf("data length mismatch: got %d bytes, expected %d (header=%d + data=%d + checksum=%d)",
			len(data), expectedLen, RowHeaderSize, dataLen, RowChecksumSize)
	}

	switch mode {
	case protocol.ParamWrite, protocol.ParamEraseAndWrite, protocol.ParamWriteMetadata:
	default:
		return nil, fmt.Errorf("invalid write mode: 0x%02X", mode)
	}

	checksum := data[len(data)-1]
	calculated := protocol.CalculateRowChecksum(data[:len(data)-1])
	if checksum != calculated {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X, expected 0x%02X", checksum, calculated)
	}

	row := &Row{
		OID:      oid,
		Mode:     mode,
		Offset:   offset,
		Data:     make([]byte, dataLen),
		Checksum: checksum,
	}
	copy(row.Data, data[RowHeaderSize:RowHeaderSize+dataLen])
	return row, nil
}

// EncodeRow renders row as a manifest line, computing its checksum.
func EncodeRow(row *Row) (string, error) {
	if len(row.Data) > protocol.MaxPayloadLength {
		return "", fmt.Errorf("row data too long: %d bytes", len(row.Data))
	}

	buf := make([]byte, 0, RowHeaderSize+len(row.Data)+RowChecksumSize)
	buf = binary.BigEndian.AppendUint16(buf, row.OID)
	buf = append(buf, row.Mode)
	buf = binary.BigEndian.AppendUint16(buf, row.Offset)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(row.Data)))
	buf = append(buf, row.Data...)
	buf = append(buf, protocol.CalculateRowChecksum(buf))
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// Write renders m in the file format read by ParseReader.
func Write(w io.Writer, m *Manifest) error {
	if _, err := fmt.Fprintf(w, "%02X%02X\n", m.Version, byte(m.Protection)); err != nil {
		return err
	}
	for i, row := range m.Rows {
		line, err := EncodeRow(row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
