package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	codec := NewCodec(WithFrameCheck(true))

	valid, err := codec.EncodeResponse(StatusSuccess, []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatal(err)
	}
	failure, err := codec.EncodeResponse(StatusFailure, nil)
	if err != nil {
		t.Fatal(err)
	}

	corrupted := append([]byte(nil), valid...)
	corrupted[5] ^= 0x40

	badLength := append([]byte(nil), valid...)
	badLength[3] = 0x02

	tests := []struct {
		name        string
		frame       []byte
		wantStatus  byte
		wantDataLen int
		wantErr     error
	}{
		{
			name:        "valid response with data",
			frame:       valid,
			wantStatus:  StatusSuccess,
			wantDataLen: 3,
		},
		{
			name:       "failure status",
			frame:      failure,
			wantStatus: StatusFailure,
		},
		{
			name:    "frame too short",
			frame:   []byte{0x00, 0x00},
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "truncated payload",
			frame:   valid[:len(valid)-3],
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "length field mismatch",
			frame:   badLength,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "corrupted byte",
			frame:   corrupted,
			wantErr: ErrChecksumMismatch,
		},
		{
			name:    "oversized frame",
			frame:   make([]byte, DefaultMaxFrameSize+1),
			wantErr: ErrFrameTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := codec.DecodeResponse(tt.frame)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = 0x%02X, want 0x%02X", resp.Status, tt.wantStatus)
			}
			if len(resp.Payload) != tt.wantDataLen {
				t.Errorf("payload length = %d, want %d", len(resp.Payload), tt.wantDataLen)
			}
		})
	}
}

func TestDecodeResponseCopiesPayload(t *testing.T) {
	codec := NewCodec()
	frame, _ := codec.EncodeResponse(StatusSuccess, []byte{0x11, 0x22})

	resp, err := codec.DecodeResponse(frame)
	if err != nil {
		t.Fatal(err)
	}
	frame[HeaderSize] = 0x00
	if resp.Payload[0] != 0x11 {
		t.Errorf("payload aliases the frame buffer")
	}
}

func TestParseTLVs(t *testing.T) {
	var data []byte
	data = AppendTLV(data, 0x01, []byte{0xAA, 0xBB})
	data = AppendTLV(data, 0x07, nil)

	fields, err := ParseTLVs(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
	if fields[0].Tag != 0x01 || !bytes.Equal(fields[0].Value, []byte{0xAA, 0xBB}) {
		t.Errorf("first field = %+v", fields[0])
	}
	if fields[1].Tag != 0x07 || len(fields[1].Value) != 0 {
		t.Errorf("second field = %+v", fields[1])
	}

	if _, err := ParseTLVs(data[:4]); !errors.Is(err, ErrMalformedTLV) {
		t.Errorf("truncated TLV error = %v, want ErrMalformedTLV", err)
	}
}

func TestParseContextHandle(t *testing.T) {
	handle, err := ParseContextHandle([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil || len(handle) != ContextHandleSize {
		t.Fatalf("ParseContextHandle() = % X, %v", handle, err)
	}
	if _, err := ParseContextHandle([]byte{1}); err == nil {
		t.Error("expected error for short handle")
	}
}

func TestDeviceError(t *testing.T) {
	err := error(&DeviceError{Operation: "read data object", Code: ErrCodeDataObjectBoundary})
	want := "read data object failed: data object boundary exceeded (0x08)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !IsDeviceError(errors.Join(errors.New("context"), err)) {
		t.Error("IsDeviceError() = false for wrapped DeviceError")
	}
	if ErrorCodeName(0x77) != "unknown error code 0x77" {
		t.Errorf("ErrorCodeName(0x77) = %q", ErrorCodeName(0x77))
	}
}

func BenchmarkDecodeResponse(b *testing.B) {
	codec := NewCodec(WithFrameCheck(true))
	frame, _ := codec.EncodeResponse(StatusSuccess, make([]byte, 1024))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = codec.DecodeResponse(frame)
	}
}
