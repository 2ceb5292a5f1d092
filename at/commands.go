package at

// Basic and system commands
const (
	CmdReset    = "AT+RST"
	CmdVersion  = "AT+GMR"
	CmdUartCur  = "AT+UART_CUR=%d,8,1,0,%d"
	VersionLine = "AT version:%s("
	Line        = "%s"
)

// Wi-Fi commands
const (
	CmdWifiMode      = "AT+CWMODE=%d"
	CmdMultiConn     = "AT+CIPMUX=1"
	CmdAutoConnOff   = "AT+CWAUTOCONN=0"
	CmdJoinAP        = `AT+CWJAP="%s","%s"`
	CmdQueryAP       = "AT+CWJAP?"
	CmdQuitAP        = "AT+CWQAP"
	CmdListAP        = "AT+CWLAP"
	CmdListOneAP     = `AT+CWLAP="%s","%s"`
	CmdSoftAP        = `AT+CWSAP="%s","%s",%d,%d`
	CmdDHCP          = "AT+CWDHCP=%d,%d"
	CmdLocalAddr     = "AT+CIFSR"
	CmdStationIP     = `AT+CIPSTA="%s"`
	CmdStationIPFull = `AT+CIPSTA="%s","%s","%s"`
	CmdStationQuery  = "AT+CIPSTA?"
	CmdSoftAPIP      = `AT+CIPAP="%s"`
	CmdSoftAPIPFull  = `AT+CIPAP="%s","%s","%s"`
	CmdSoftAPQuery   = "AT+CIPAP?"
	RespStationIP    = `+CIFSR:STAIP,"%s"`
	RespStationMAC   = `+CIFSR:STAMAC,"%s"`
	RespSoftAPIP     = `+CIFSR:APIP,"%s"`
	RespSoftAPMAC    = `+CIFSR:APMAC,"%s"`
	RespStaGateway   = `+CIPSTA:gateway:"%s"`
	RespStaNetmask   = `+CIPSTA:netmask:"%s"`
	RespAPGateway    = `+CIPAP:gateway:"%s"`
	RespAPNetmask    = `+CIPAP:netmask:"%s"`
	RespJoinedSSID   = `+CWJAP:"%s",`
	RespJoinedAP     = `+CWJAP:"%s","%s"`
	RespListAP       = `+CWLAP:(%d,"%s",%d,"%s",%d`
	RespListAPRSSI   = `+CWLAP:(%d,"%s",%d,`
	PrefixListAP     = "+CWLAP:"
	CmdServerOpen    = "AT+CIPSERVER=1,%d"
	CmdServerClose   = "AT+CIPSERVER=0"
	CmdStart         = `AT+CIPSTART=%d,"%s","%s",%d`
	CmdStartOpt      = `AT+CIPSTART=%d,"%s","%s",%d,%d`
	CmdSend          = "AT+CIPSEND=%d,%d"
	CmdClose         = "AT+CIPCLOSE=%d"
	DataHeader       = ",%d,%d:"
)

// BLE commands
const (
	CmdBLEInit          = "AT+BLEINIT=%d"
	CmdBLEInitQuery     = "AT+BLEINIT?"
	RespBLEInit         = "+BLEINIT:%d"
	CmdBLEName          = `AT+BLENAME="%s"`
	CmdBLENameQuery     = "AT+BLENAME?"
	RespBLEName         = "+BLENAME:%s"
	CmdBLEServiceCreate = "AT+BLEGATTSSRVCRE"
	CmdBLEServiceStart  = "AT+BLEGATTSSRVSTART"
	CmdBLEScanRsp       = `AT+BLESCANRSPDATA="%s"`
	CmdBLEAdvStart      = "AT+BLEADVSTART"
	CmdBLEAdvStop       = "AT+BLEADVSTOP"
	CmdBLEAddrPublic    = "AT+BLEADDR=0"
	CmdBLEAddrRandom    = `AT+BLEADDR=1,"%s"`
	CmdBLEAddrQuery     = "AT+BLEADDR?"
	RespBLEAddr         = "+BLEADDR:%s"
	CmdBLEAdvParam      = "AT+BLEADVPARAM=%d,%d,%d,%d,%d,%d"
	CmdBLEAdvParamPeer  = `AT+BLEADVPARAM=%d,%d,%d,%d,%d,%d,%d,"%s"`
	CmdBLEAdvData       = `AT+BLEADVDATA="%s"`
	CmdBLESetAttr       = "AT+BLEGATTSSETATTR=%d,%d,,%d"
	CmdBLENotify        = "AT+BLEGATTSNTFY=%d,%d,%d,%d"
	CmdBLEScanStart     = "AT+BLESCAN=1"
	CmdBLEScanFor       = "AT+BLESCAN=1,%d"
	CmdBLEScanStop      = "AT+BLESCAN=0"
	CmdBLEConnect       = `AT+BLECONN=%d,"%s"`
	CmdBLEDisconnect    = "AT+BLEDISCONN=%d"
	CmdBLEPrimSrv       = "AT+BLEGATTCPRIMSRV=%d"
	CmdBLEChars         = "AT+BLEGATTCCHAR=%d,%d"
	CmdBLEReadChar      = "AT+BLEGATTCRD=%d,%d,%d"
	CmdBLEReadDesc      = "AT+BLEGATTCRD=%d,%d,%d,%d"
	RespBLERead         = "+BLEGATTCRD:%d,%d,"
	CmdBLEWriteChar     = "AT+BLEGATTCWR=%d,%d,%d,,%d"
	CmdBLEWriteDesc     = "AT+BLEGATTCWR=%d,%d,%d,%d,%d"
)
