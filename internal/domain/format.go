package domain

// Format is a recording container/codec pair, named by its MIME type.
type Format string

const (
	FormatWebMOpus Format = "audio/webm; codecs=opus"
	FormatOggOpus  Format = "audio/ogg; codecs=opus"
)

// DefaultFormats is the recording preference order: primary, then fallback.
var DefaultFormats = []Format{FormatWebMOpus, FormatOggOpus}

// ConnState is a relay-level connection event, for observability only.
type ConnState string

const (
	StateConnect      ConnState = "connect"
	StateConnectError ConnState = "connect_error"
	StateError        ConnState = "error"
	StateDisconnect   ConnState = "disconnect"
)
