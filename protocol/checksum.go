package protocol

// Checksum algorithm constants.
const (
	// CRC16Polynomial is the CRC-16-CCITT polynomial (0x1021)
	CRC16Polynomial = 0x1021

	// CRC16InitialValue is the CRC-16 initial value
	CRC16InitialValue = 0xFFFF

	// CRC16HighBitMask is the high bit mask for CRC-16 calculations
	CRC16HighBitMask = 0x8000

	// BitsPerByte is the number of bits per byte
	BitsPerByte = 8
)

// CalculateFCS computes the frame check sequence appended to frames when
// the codec runs with frame checking enabled.
//
// CRC-16-CCITT parameters:
//   - Polynomial: CRC16Polynomial
//   - Initial value: CRC16InitialValue
//   - No final XOR
func CalculateFCS(data []byte) uint16 {
	crc := uint16(CRC16InitialValue)

	for _, b := range data {
		crc ^= uint16(b) << BitsPerByte
		for i := 0; i < BitsPerByte; i++ {
			if crc&CRC16HighBitMask != 0 {
				crc = (crc << 1) ^ CRC16Polynomial
			} else {
				crc = crc << 1
			}
		}
	}

	return crc
}

// CalculateRowChecksum computes the 8-bit checksum of a provisioning row.
// The checksum is calculated by summing all bytes and taking 2's complement,
// so that the sum of a row including its checksum is zero.
func CalculateRowChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}
