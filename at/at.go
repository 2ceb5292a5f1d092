package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = ">"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	Fail     = "FAIL"
	SendOK   = "SEND OK"
	SendFail = "SEND FAIL"
	Ready    = "ready"

	// OOB prefixes (asynchronous notifications)
	OobData    = "+IPD"
	OobWifi    = "WIFI "
	OobConnect = ",CONNECT" // preceded by the link id
	OobClosed  = ",CLOSED"  // preceded by the link id

	OobBLEConnect    = "+BLECONN:"
	OobBLEDisconnect = "+BLEDISCONN:"
	OobBLEWrite      = "+WRITE:"
	OobBLEScan       = "+BLESCAN:"
	OobBLEPrimSrv    = "+BLEGATTCPRIMSRV:"
	OobBLEChar       = "+BLEGATTCCHAR:"

	// Wi-Fi status tokens following OobWifi
	WifiConnected    = "CONNECTED"
	WifiGotIP        = "GOT IP"
	WifiDisconnected = "DISCONNECT"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR, SEND OK
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CIFSR:...)
	TypePrompt                     // Raw data input prompt
)
