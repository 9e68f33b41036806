package protocol

import "testing"

func TestCalculateRowChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: 0x00,
		},
		{
			name:     "single byte",
			data:     []byte{0x01},
			expected: 0xFF, // 2's complement of 0x01
		},
		{
			name:     "multiple bytes",
			data:     []byte{0x01, 0x02, 0x03, 0x04},
			expected: 0xF6, // 2's complement of 0x0A
		},
		{
			name:     "all ones",
			data:     []byte{0xFF, 0xFF, 0xFF, 0xFF},
			expected: 0x04, // overflow and 2's complement
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateRowChecksum(tt.data)
			if result != tt.expected {
				t.Errorf("CalculateRowChecksum() = 0x%02X, want 0x%02X", result, tt.expected)
			}

			var sum byte
			for _, b := range tt.data {
				sum += b
			}
			if sum+result != 0 {
				t.Errorf("row plus checksum sums to 0x%02X, want 0x00", sum+result)
			}
		})
	}
}

func TestCalculateFCS(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: 0xFFFF,
		},
		{
			name:     "single zero byte",
			data:     []byte{0x00},
			expected: 0xE1F0,
		},
		{
			name:     "check string",
			data:     []byte("123456789"),
			expected: 0x29B1, // CRC-16/CCITT-FALSE check value
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateFCS(tt.data)
			if result != tt.expected {
				t.Errorf("CalculateFCS() = 0x%04X, want 0x%04X", result, tt.expected)
			}
		})
	}
}

func BenchmarkCalculateRowChecksum(b *testing.B) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CalculateRowChecksum(data)
	}
}

func BenchmarkCalculateFCS(b *testing.B) {
	data := make([]byte, DefaultMaxFrameSize)
	for i := range data {
		data[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CalculateFCS(data)
	}
}
