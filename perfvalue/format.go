package perfvalue

// A Format describes how to render a field's decoded value (hex,
// signed/unsigned decimal, UUID, IP address, and so on). The top bit
// is a chain flag used only by the EventHeader metadata stream.
type Format uint8

const (
	// FormatChainFlag indicates a Tag field follows this Format
	// byte in the metadata stream.
	FormatChainFlag Format = 0x80

	formatBaseMask = 0x7f
)

const (
	Default Format = iota
	UnsignedInt
	SignedInt
	HexInt
	Errno
	Pid
	Time
	Boolean
	Float
	HexBytes
	String8
	StringUtf
	StringUtfBom
	StringXml
	StringJson
	Uuid
	Port
	IPv4
	IPv6
	IPAddress
)

// Base strips the chain flag.
func (f Format) Base() Format {
	return f & formatBaseMask
}

func (f Format) String() string {
	names := [...]string{
		"Default", "UnsignedInt", "SignedInt", "HexInt", "Errno", "Pid",
		"Time", "Boolean", "Float", "HexBytes", "String8", "StringUtf",
		"StringUtfBom", "StringXml", "StringJson", "Uuid", "Port", "IPv4",
		"IPv6", "IPAddress",
	}
	base := f.Base()
	if int(base) < len(names) {
		return names[base]
	}
	return "Format(?)"
}
