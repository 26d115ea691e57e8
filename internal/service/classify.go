// Package service labels open ports with a probable service name. Banner
// signatures take priority over the well-known-port table; classification is
// pure lookup with no network I/O.
package service

import (
	"bytes"
	"sort"
)

// bannerSignature maps an initial-bytes pattern to a service name. Order
// matters: the first match wins, so more specific signatures come first.
type bannerSignature struct {
	pattern []byte
	name    string
}

var bannerSignatures = []bannerSignature{
	{[]byte("SSH-2.0"), "ssh"},
	{[]byte("SSH-"), "ssh"},
	{[]byte("HTTP/1.1"), "http"},
	{[]byte("HTTP/1.0"), "http"},
	{[]byte("220 (vsFTPd"), "ftp"},
	{[]byte("220 ProFTPD"), "ftp"},
	{[]byte("* OK IMAP4"), "imap"},
	{[]byte("* OK ["), "imap"},
	{[]byte("+OK"), "pop3"},
	{[]byte("220 SMTP"), "smtp"},
	{[]byte("220-"), "smtp"},
	{[]byte("RFB "), "vnc"},
	{[]byte("MongoDB Server"), "mongodb"},
	{[]byte("-ERR wrong number"), "redis"},
	{[]byte("AMQP"), "amqp"},
	{[]byte("mysql_native_password"), "mysql"},
}

// Generic FTP/SMTP greetings share the "220 " prefix; these only apply when
// no specific signature above matched.
var genericSignatures = []bannerSignature{
	{[]byte("220 "), "ftp"},
}

var wellKnownPorts = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	110:   "pop3",
	111:   "rpcbind",
	135:   "msrpc",
	139:   "netbios-ssn",
	143:   "imap",
	443:   "https",
	445:   "smb",
	587:   "submission",
	993:   "imaps",
	995:   "pop3s",
	1433:  "mssql",
	1521:  "oracle",
	3306:  "mysql",
	3389:  "rdp",
	5432:  "postgresql",
	5672:  "amqp",
	5900:  "vnc",
	6379:  "redis",
	8080:  "http-proxy",
	8443:  "https-alt",
	9200:  "elasticsearch",
	27017: "mongodb",
}

// Classify returns a probable service name for an open port, or "" when no
// guess can be made. Banner evidence outranks the port number.
func Classify(port int, banner []byte) string {
	if len(banner) > 0 {
		banner = bytes.TrimLeft(banner, " \t\r\n")
		for _, sig := range bannerSignatures {
			if bytes.Contains(banner, sig.pattern) {
				return sig.name
			}
		}
		for _, sig := range genericSignatures {
			if bytes.HasPrefix(banner, sig.pattern) {
				return sig.name
			}
		}
	}
	return wellKnownPorts[port]
}

// WellKnownPorts returns the ports with a known default service, ascending.
// The default scan port set is derived from this table.
func WellKnownPorts() []int {
	ports := make([]int, 0, len(wellKnownPorts))
	for port := range wellKnownPorts {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}
