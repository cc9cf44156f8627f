package at

const (
	// Terminal Control
	CR     = "\r"
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg     = "+CMTI:"
	UrcCall       = "RING"
	UrcHTTPAction = "+HTTPACTION:"
)

// Command literals. The unit drives a SIM800-class modem; the strings are
// sent verbatim followed by CR unless noted otherwise.
const (
	CmdAt          = "AT"
	CmdEchoOff     = "ATE0"
	CmdSetTextMode = "AT+CMGF=1"
	CmdFullHeaders = "AT+CSDH=1"
	CmdDeleteAll   = `AT+CMGDA="DEL ALL"`
	CmdReadPrefix  = "AT+CMGR="
	CmdSendPrefix  = "AT+CMGS="

	CmdBearerContype = `AT+SAPBR=3,1,"CONTYPE","GPRS"`
	CmdBearerAPN     = `AT+SAPBR=3,1,"APN","%s"`
	CmdBearerOpen    = "AT+SAPBR=1,1"
	CmdHTTPInit      = "AT+HTTPINIT"
	CmdHTTPCid       = `AT+HTTPPARA="CID",1`
	CmdHTTPURL       = `AT+HTTPPARA="URL","%s"`
	CmdHTTPData      = "AT+HTTPDATA=%d,%d"
	CmdHTTPPost      = "AT+HTTPACTION=1"
	CmdHTTPTerm      = "AT+HTTPTERM"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CMGR: ...)
	TypePrompt                     // SMS input prompt
	TypeEcho                       // our own command echoed back
)

// String returns the classification name used in logs.
func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	case TypeEcho:
		return "echo"
	default:
		return "unknown"
	}
}
