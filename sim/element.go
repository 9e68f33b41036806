package sim

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/moffa90/go-trustm/chunk"
	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
)

// DefaultObjectSize is the capacity of data objects created on write.
const DefaultObjectSize = 1500

// Element is a software secure element. It executes the command set the
// driver uses and answers over the same message format as the hardware.
type Element struct {
	mu sync.Mutex

	codec    *protocol.Codec
	channel  *shielded.Channel
	provider shielded.Provider
	rand     io.Reader

	objects   map[uint16][]byte
	metadata  map[uint16][]byte
	capacity  int
	lastError byte
	open      bool
	hibernate []byte
	hash      chunk.Order
	sym       chunk.Order
	stream    *symStream
	commands  int
}

// ElementOption configures an Element.
type ElementOption func(*Element)

// WithObject preloads a data object.
func WithObject(oid uint16, data []byte) ElementOption {
	return func(e *Element) {
		e.objects[oid] = append([]byte(nil), data...)
	}
}

// WithRandom sets the element's randomness, used for the handshake,
// GetRandom and context handles.
func WithRandom(r io.Reader) ElementOption {
	return func(e *Element) {
		if r != nil {
			e.rand = r
		}
	}
}

// WithElementCodec sets the codec used to decode commands and encode
// responses. It must match the host's.
func WithElementCodec(c *protocol.Codec) ElementOption {
	return func(e *Element) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithProvider selects the shielded channel provider.
func WithProvider(p shielded.Provider) ElementOption {
	return func(e *Element) {
		e.provider = p
	}
}

// WithObjectSize sets the capacity of data objects.
func WithObjectSize(n int) ElementOption {
	return func(e *Element) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// NewElement creates an element bound to the 64-byte platform binding
// secret. The element stores the secret in OIDPlatformBindingSecret.
func NewElement(secret []byte, opts ...ElementOption) (*Element, error) {
	e := &Element{
		codec:    protocol.NewCodec(),
		rand:     rand.Reader,
		objects:  make(map[uint16][]byte),
		metadata: make(map[uint16][]byte),
		capacity: DefaultObjectSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	chOpts := []shielded.Option{shielded.WithRole(shielded.RoleDevice), shielded.WithRandom(e.rand)}
	if e.provider != nil {
		chOpts = append(chOpts, shielded.WithProvider(e.provider))
	}
	ch, err := shielded.NewChannel(secret, chOpts...)
	if err != nil {
		return nil, err
	}
	e.channel = ch
	e.objects[protocol.OIDPlatformBindingSecret] = append([]byte(nil), secret...)

	if _, ok := e.objects[protocol.OIDCoprocessorUID]; !ok {
		uid := make([]byte, 27)
		if _, err := io.ReadFull(e.rand, uid); err != nil {
			return nil, fmt.Errorf("draw element UID: %w", err)
		}
		e.objects[protocol.OIDCoprocessorUID] = uid
	}
	return e, nil
}

// Channel returns the element's end of the shielded channel.
func (e *Element) Channel() *shielded.Channel {
	return e.channel
}

// Object returns a copy of a data object.
func (e *Element) Object(oid uint16) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.objects[oid]
	return append([]byte(nil), data...), ok
}

// LastError returns the current last error code.
func (e *Element) LastError() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// Open reports whether the application is open.
func (e *Element) Open() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// Commands returns how many APDUs the element executed.
func (e *Element) Commands() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commands
}

// Reset models a cold reset: the application closes and the shielded
// session is lost. Data objects and a hibernated context survive.
func (e *Element) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	e.lastError = 0
	e.hash.Reset()
	e.sym.Reset()
	e.stream = nil
	e.channel.Reset()
}

// Handle processes one message from the host and returns the reply.
//
// Message structure (both directions):
//
//	[PCTR][BODY]
func (e *Element) Handle(msg []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(msg) == 0 {
		return e.plain(e.failure(protocol.ErrCodeInvalidCommandField))
	}

	switch msg[0] {
	case protocol.PresentationPlain:
		return e.plain(e.execute(msg[1:]))
	case protocol.PresentationShielded:
		return e.handleShielded(msg[1:])
	default:
		return e.plain(e.failure(protocol.ErrCodeInvalidCommandField))
	}
}

func (e *Element) handleShielded(body []byte) []byte {
	if len(body) == 0 {
		return wrap(protocol.PresentationShielded, shielded.Alert(shielded.AlertFatal))
	}

	switch body[0] {
	case shielded.SCTRHandshake:
		hello, err := e.channel.Accept(body)
		if err != nil {
			return wrap(protocol.PresentationShielded, shielded.Alert(shielded.AlertFatal))
		}
		return wrap(protocol.PresentationShielded, hello)

	case shielded.SCTRFinished:
		finished, err := e.channel.Finish(body)
		if err != nil {
			return wrap(protocol.PresentationShielded, shielded.Alert(shielded.AlertIntegrityViolated))
		}
		return wrap(protocol.PresentationShielded, finished)

	case shielded.SCTRRecord:
		apdu, err := e.channel.Unprotect(body)
		if err != nil {
			return wrap(protocol.PresentationShielded, shielded.Alert(shielded.AlertIntegrityViolated))
		}
		record, err := e.channel.Protect(e.execute(apdu))
		if err != nil {
			return wrap(protocol.PresentationShielded, shielded.Alert(shielded.AlertFatal))
		}
		return wrap(protocol.PresentationShielded, record)

	default:
		return wrap(protocol.PresentationShielded, shielded.Alert(shielded.AlertFatal))
	}
}

// execute runs one command APDU and returns the encoded response.
func (e *Element) execute(apdu []byte) []byte {
	cmd, err := e.codec.DecodeCommand(apdu)
	if err != nil {
		return e.failure(protocol.ErrCodeInvalidLengthField)
	}
	e.commands++

	if cmd.Opcode&protocol.ClearLastError != 0 {
		e.lastError = protocol.ErrCodeNone
	}

	// The last error stays readable with the application closed.
	if cmd.Opcode != protocol.CmdOpenApplication && cmd.Opcode != protocol.CmdGetDataObjectKeepError && !e.open {
		return e.failure(protocol.ErrCodeApplicationNotOpen)
	}

	var (
		out  []byte
		code byte
	)
	switch cmd.Opcode {
	case protocol.CmdOpenApplication:
		out, code = e.openApplication(cmd)
	case protocol.CmdCloseApplication:
		out, code = e.closeApplication(cmd)
	case protocol.CmdGetDataObject, protocol.CmdGetDataObjectKeepError:
		out, code = e.getDataObject(cmd)
	case protocol.CmdSetDataObject:
		out, code = e.setDataObject(cmd)
	case protocol.CmdGetRandom:
		out, code = e.getRandom(cmd)
	case protocol.CmdCalcHash:
		out, code = e.calcHash(cmd)
	case protocol.CmdEncryptSym, protocol.CmdDecryptSym:
		out, code = e.symmetric(cmd)
	default:
		code = protocol.ErrCodeInvalidCommandField
	}

	if code != protocol.ErrCodeNone {
		return e.failure(code)
	}
	return e.success(out)
}

func (e *Element) openApplication(cmd protocol.Command) ([]byte, byte) {
	if len(cmd.Payload) < protocol.ApplicationIDSize ||
		string(cmd.Payload[:protocol.ApplicationIDSize]) != string(protocol.ApplicationID[:]) {
		return nil, protocol.ErrCodeInvalidParamInData
	}

	switch cmd.Param {
	case protocol.ParamOpenInit:
		if len(cmd.Payload) != protocol.ApplicationIDSize {
			return nil, protocol.ErrCodeInvalidLengthField
		}
	case protocol.ParamOpenRestore:
		handle := cmd.Payload[protocol.ApplicationIDSize:]
		if e.hibernate == nil || string(handle) != string(e.hibernate) {
			return nil, protocol.ErrCodeInvalidParamInData
		}
		e.hibernate = nil
	default:
		return nil, protocol.ErrCodeInvalidParamField
	}

	e.open = true
	return nil, protocol.ErrCodeNone
}

func (e *Element) closeApplication(cmd protocol.Command) ([]byte, byte) {
	switch cmd.Param {
	case protocol.ParamCloseNoHibernate:
		e.open = false
		return nil, protocol.ErrCodeNone
	case protocol.ParamCloseHibernate:
		handle := make([]byte, protocol.ContextHandleSize)
		if _, err := io.ReadFull(e.rand, handle); err != nil {
			return nil, protocol.ErrCodeInternalProcess
		}
		handle[0] |= 0x01 // never all zero
		e.hibernate = handle
		e.open = false
		return append([]byte(nil), handle...), protocol.ErrCodeNone
	default:
		return nil, protocol.ErrCodeInvalidParamField
	}
}

func (e *Element) getDataObject(cmd protocol.Command) ([]byte, byte) {
	if len(cmd.Payload) != protocol.DataObjectHeaderSize {
		return nil, protocol.ErrCodeInvalidLengthField
	}
	oid := binary.BigEndian.Uint16(cmd.Payload[0:2])
	offset := int(binary.BigEndian.Uint16(cmd.Payload[2:4]))
	length := int(binary.BigEndian.Uint16(cmd.Payload[4:6]))

	var data []byte
	switch {
	case oid == protocol.OIDLastErrorCode:
		data = []byte{e.lastError}
	case cmd.Param == protocol.ParamReadMetadata:
		md, ok := e.metadata[oid]
		if !ok {
			if _, exists := e.objects[oid]; !exists {
				return nil, protocol.ErrCodeInvalidOID
			}
		}
		data = md
	case oid == protocol.OIDPlatformBindingSecret, oid == protocol.OIDSymmetricKey:
		return nil, protocol.ErrCodeAccessConditions
	default:
		obj, ok := e.objects[oid]
		if !ok {
			return nil, protocol.ErrCodeInvalidOID
		}
		data = obj
	}

	if offset >= len(data) {
		return nil, protocol.ErrCodeDataObjectBoundary
	}
	end := offset + length
	if end > len(data) {
		end = len(data)
	}
	if limit := e.codec.MaxPayload(); end-offset > limit {
		end = offset + limit
	}
	return append([]byte(nil), data[offset:end]...), protocol.ErrCodeNone
}

func (e *Element) setDataObject(cmd protocol.Command) ([]byte, byte) {
	if len(cmd.Payload) < 4 {
		return nil, protocol.ErrCodeInvalidLengthField
	}
	oid := binary.BigEndian.Uint16(cmd.Payload[0:2])
	offset := int(binary.BigEndian.Uint16(cmd.Payload[2:4]))
	data := cmd.Payload[4:]

	if oid == protocol.OIDLastErrorCode || oid == protocol.OIDCoprocessorUID || oid == protocol.OIDSymmetricKey {
		return nil, protocol.ErrCodeAccessConditions
	}
	if offset+len(data) > e.capacity {
		return nil, protocol.ErrCodeDataObjectBoundary
	}

	switch cmd.Param {
	case protocol.ParamWriteMetadata:
		e.metadata[oid] = append([]byte(nil), data...)
		return nil, protocol.ErrCodeNone
	case protocol.ParamWrite:
		obj := e.objects[oid]
		if offset > len(obj) {
			return nil, protocol.ErrCodeDataObjectBoundary
		}
		if end := offset + len(data); end > len(obj) {
			obj = append(obj, make([]byte, end-len(obj))...)
		}
		copy(obj[offset:], data)
		e.objects[oid] = obj
		return nil, protocol.ErrCodeNone
	case protocol.ParamEraseAndWrite:
		obj := make([]byte, offset+len(data))
		copy(obj[offset:], data)
		e.objects[oid] = obj
		return nil, protocol.ErrCodeNone
	default:
		return nil, protocol.ErrCodeInvalidParamField
	}
}

func (e *Element) getRandom(cmd protocol.Command) ([]byte, byte) {
	if cmd.Param != protocol.ParamRandomTRNG && cmd.Param != protocol.ParamRandomDRNG {
		return nil, protocol.ErrCodeInvalidParamField
	}
	if len(cmd.Payload) != 2 {
		return nil, protocol.ErrCodeInvalidLengthField
	}
	n := int(binary.BigEndian.Uint16(cmd.Payload))
	if n < protocol.MinRandomLength || n > protocol.MaxRandomLength {
		return nil, protocol.ErrCodeInvalidParamInData
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(e.rand, out); err != nil {
		return nil, protocol.ErrCodeInternalProcess
	}
	return out, protocol.ErrCodeNone
}

// calcHash implements the chunked hash sequence. The hash state is not
// kept here: it is exported after START/CONTINUE when the host asks for it
// and must come back with the next frame.
func (e *Element) calcHash(cmd protocol.Command) ([]byte, byte) {
	if cmd.Param != protocol.HashSHA256 {
		return nil, protocol.ErrCodeInvalidParamField
	}
	fields, err := protocol.ParseTLVs(cmd.Payload)
	if err != nil || len(fields) == 0 {
		return nil, protocol.ErrCodeInvalidLengthField
	}

	tag := chunk.Tag(fields[0].Tag)
	data := fields[0].Value
	var state []byte
	var exportState bool
	for _, f := range fields[1:] {
		switch chunk.Tag(f.Tag) {
		case chunk.TagIntermediate:
			state = f.Value
		case chunk.TagContextOut:
			exportState = true
		default:
			return nil, protocol.ErrCodeInvalidParamInData
		}
	}

	if err := e.hash.Observe(tag); err != nil {
		return nil, protocol.ErrCodeCommandOutOfSequence
	}

	h := sha256.New()
	switch tag {
	case chunk.TagStart, chunk.TagStartFinal:
		if state != nil {
			e.hash.Reset()
			return nil, protocol.ErrCodeInvalidParamInData
		}
	case chunk.TagContinue, chunk.TagFinal:
		if state == nil {
			e.hash.Reset()
			return nil, protocol.ErrCodeInvalidParamInData
		}
		if err := h.(encoding.BinaryUnmarshaler).UnmarshalBinary(state); err != nil {
			e.hash.Reset()
			return nil, protocol.ErrCodeInvalidParamInData
		}
	}
	h.Write(data)

	if tag == chunk.TagFinal || tag == chunk.TagStartFinal {
		return protocol.AppendTLV(nil, 0x01, h.Sum(nil)), protocol.ErrCodeNone
	}
	if !exportState {
		return nil, protocol.ErrCodeNone
	}
	blob, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return nil, protocol.ErrCodeInternalProcess
	}
	return protocol.AppendTLV(nil, byte(chunk.TagIntermediate), blob), protocol.ErrCodeNone
}

func (e *Element) success(payload []byte) []byte {
	frame, err := e.codec.EncodeResponse(protocol.StatusSuccess, payload)
	if err != nil {
		return e.failure(protocol.ErrCodeInsufficientBuffer)
	}
	return frame
}

func (e *Element) failure(code byte) []byte {
	e.lastError = code
	frame, _ := e.codec.EncodeResponse(protocol.StatusFailure, nil)
	return frame
}

func (e *Element) plain(frame []byte) []byte {
	return wrap(protocol.PresentationPlain, frame)
}

func wrap(pctr byte, body []byte) []byte {
	return append([]byte{pctr}, body...)
}
