package protocol

// Frame structure constants.
const (
	// HeaderSize is the APDU header size: OPCODE/STATUS(1) + PARAM(1) + LEN(2)
	HeaderSize = 4

	// FCSSize is the size of the optional CRC-16 frame check sequence
	FCSSize = 2

	// DefaultMaxFrameSize is the size of the element's communication buffer (0x615)
	DefaultMaxFrameSize = 0x615

	// MaxPayloadLength is the largest value the 16-bit length field can carry
	MaxPayloadLength = 0xFFFF
)

// Presentation control bytes prefixed to every message handed to a Port.
const (
	// PresentationPlain marks a plaintext APDU
	PresentationPlain = 0x00

	// PresentationShielded marks a shielded channel message (handshake or record)
	PresentationShielded = 0x08
)

// ClearLastError is OR'd into an opcode to make the element clear its last
// error code before executing the command.
const ClearLastError = 0x80

// Command codes.
const (
	// CmdGetDataObject reads data or metadata of a data object
	CmdGetDataObject = 0x01 | ClearLastError

	// CmdSetDataObject writes data or metadata of a data object
	CmdSetDataObject = 0x02 | ClearLastError

	// CmdSetObjectProtected performs a protected update of a data object
	CmdSetObjectProtected = 0x03 | ClearLastError

	// CmdGetRandom draws random bytes from the element
	CmdGetRandom = 0x0C | ClearLastError

	// CmdEncryptSym encrypts data with a symmetric key held by the element
	CmdEncryptSym = 0x14 | ClearLastError

	// CmdDecryptSym decrypts data with a symmetric key held by the element
	CmdDecryptSym = 0x15 | ClearLastError

	// CmdEncryptAsym encrypts data with an asymmetric key
	CmdEncryptAsym = 0x1E | ClearLastError

	// CmdDecryptAsym decrypts data with an asymmetric key
	CmdDecryptAsym = 0x1F | ClearLastError

	// CmdCalcHash computes a digest, possibly across several frames
	CmdCalcHash = 0x30 | ClearLastError

	// CmdCalcSign signs a digest
	CmdCalcSign = 0x31 | ClearLastError

	// CmdVerifySign verifies a signature
	CmdVerifySign = 0x32 | ClearLastError

	// CmdCalcSSec computes a shared secret
	CmdCalcSSec = 0x33 | ClearLastError

	// CmdDeriveKey derives a key from a shared secret
	CmdDeriveKey = 0x34 | ClearLastError

	// CmdGenKeyPair generates an asymmetric key pair
	CmdGenKeyPair = 0x38 | ClearLastError

	// CmdGenSymKey generates a symmetric key
	CmdGenSymKey = 0x39 | ClearLastError

	// CmdOpenApplication opens (or restores) the element application
	CmdOpenApplication = 0x70 | ClearLastError

	// CmdCloseApplication closes (or hibernates) the element application
	CmdCloseApplication = 0x71 | ClearLastError

	// CmdGetDataObjectKeepError reads a data object without clearing the
	// last error code. Used to fetch the last error itself.
	CmdGetDataObjectKeepError = 0x01
)

// Response status bytes.
const (
	// StatusSuccess indicates the command executed successfully
	StatusSuccess = 0x00

	// StatusFailure indicates the command failed; the reason is held in the
	// last error code data object
	StatusFailure = 0xFF
)

// Command parameters.
const (
	// ParamReadData reads the data part of a data object
	ParamReadData = 0x00

	// ParamReadMetadata reads the metadata of a data object
	ParamReadMetadata = 0x01

	// ParamWrite writes data at the given offset
	ParamWrite = 0x00

	// ParamWriteMetadata writes metadata
	ParamWriteMetadata = 0x01

	// ParamEraseAndWrite erases the object before writing
	ParamEraseAndWrite = 0x40

	// ParamOpenInit opens a fresh application context
	ParamOpenInit = 0x00

	// ParamOpenRestore restores a hibernated application context
	ParamOpenRestore = 0x01

	// ParamCloseNoHibernate closes the application
	ParamCloseNoHibernate = 0x00

	// ParamCloseHibernate closes the application and saves its context
	ParamCloseHibernate = 0x01

	// ParamRandomTRNG draws from the true random number generator
	ParamRandomTRNG = 0x00

	// ParamRandomDRNG draws from the deterministic random number generator
	ParamRandomDRNG = 0x01

	// HashSHA256 selects SHA-256 for CmdCalcHash
	HashSHA256 = 0xE2
)

// Symmetric modes, the param of CmdEncryptSym and CmdDecryptSym.
const (
	SymModeECB    = 0x08
	SymModeCBC    = 0x09
	SymModeCBCMAC = 0x0A
	SymModeCMAC   = 0x0B
	SymHMACSHA256 = 0x20
)

// Fields of a symmetric command. The sequence of a frame (START,
// START_FINAL, CONTINUE, FINAL) takes the tag values 0x00 to 0x03 of the
// in-data field.
const (
	SymTagAssociatedData = 0x40
	SymTagIV             = 0x41
	SymTagTotalLength    = 0x42
	SymTagVerification   = 0x43

	// SymTagOutData carries the result in a symmetric response
	SymTagOutData = 0x61
)

// Well-known data object identifiers.
const (
	// OIDLastErrorCode holds the error code of the last failed command
	OIDLastErrorCode = 0xF1C2

	// OIDCoprocessorUID holds the element's unique identifier
	OIDCoprocessorUID = 0xE0C2

	// OIDDeviceCertificate holds the element's device certificate
	OIDDeviceCertificate = 0xE0E0

	// OIDPlatformBindingSecret holds the pre-shared platform binding secret
	OIDPlatformBindingSecret = 0xE140

	// OIDArbitraryData is the first arbitrary data object (type 3)
	OIDArbitraryData = 0xF1D0

	// OIDSymmetricKey holds the element's AES key
	OIDSymmetricKey = 0xE200
)

// Sizes of fixed fields.
const (
	// ApplicationIDSize is the size of the application identifier sent on open
	ApplicationIDSize = 16

	// ContextHandleSize is the size of a hibernated application context handle
	ContextHandleSize = 8

	// DataObjectHeaderSize is OID(2) + OFFSET(2) + LEN(2)
	DataObjectHeaderSize = 6

	// TLVHeaderSize is TAG(1) + LEN(2)
	TLVHeaderSize = 3

	// MinRandomLength is the smallest random draw the element accepts
	MinRandomLength = 8

	// MaxRandomLength is the largest random draw the element accepts
	MaxRandomLength = 256

	// SHA256DigestSize is the digest size of HashSHA256
	SHA256DigestSize = 32

	// SymBlockSize is the AES block size; ECB, CBC and CBC-MAC input comes
	// in whole blocks
	SymBlockSize = 16

	// MaxSymInData bounds the in-data of one symmetric command frame
	MaxSymInData = 640
)

// ApplicationID is the unique identifier of the element application.
var ApplicationID = [ApplicationIDSize]byte{
	0xD2, 0x76, 0x00, 0x00, 0x04, 0x47, 0x65, 0x6E,
	0x41, 0x75, 0x74, 0x68, 0x41, 0x70, 0x70, 0x6C,
}
