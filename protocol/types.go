package protocol

// Command is a decoded command APDU.
type Command struct {
	// Opcode is the command code, including the ClearLastError bit if set
	Opcode byte

	// Param is the command parameter byte
	Param byte

	// Payload is the command data
	Payload []byte
}

// Response is a decoded response APDU.
type Response struct {
	// Status is StatusSuccess or StatusFailure
	Status byte

	// Payload is the response data
	Payload []byte
}

// OK reports whether the response carries StatusSuccess.
func (r Response) OK() bool {
	return r.Status == StatusSuccess
}

// TLV is a tag-length-value field as used by hash and data commands.
type TLV struct {
	Tag   byte
	Value []byte
}
