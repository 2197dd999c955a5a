package rtsp

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

const (
	// ProtocolVersion is the version tag carried by requests and replies.
	ProtocolVersion = "RTSP/1.0"

	// TransportSpec is the only transport this implementation offers.
	TransportSpec = "RTP/UDP"

	// maxLineLength bounds a single control line.
	maxLineLength = 1024
)

// Request is a control request. The wire form is
//
//	<VERB> <resource>\n<cseq>\nRTSP/1.0 RTP/UDP <client-port>
//
// The transport line carries no terminating newline. Readers accept one if
// present.
type Request struct {
	Verb       Verb
	Resource   string
	CSeq       int
	ClientPort int
}

func (r Request) Marshal() []byte {
	return fmt.Appendf(nil, "%v %v\n%v\n%v %v %v", r.Verb, r.Resource, r.CSeq, ProtocolVersion, TransportSpec, r.ClientPort)
}

// ReadRequest reads one request from br. Errors returned by the underlying
// reader are returned unchanged; malformed requests yield a *ProtocolError
// whose CSeq is set if the sequence line could be parsed.
func ReadRequest(br *bufio.Reader) (Request, error) {
	lines, err := readLines(br, 2)
	if err != nil {
		return Request{}, err
	}
	transport, err := readTransportLine(br)
	if err != nil {
		return Request{}, err
	}
	lines = append(lines, transport)
	cseq, err := parseCSeq(lines[1])
	if err != nil {
		return Request{}, err
	}

	fields := strings.Fields(lines[0])
	if len(fields) != 2 {
		return Request{}, &ProtocolError{CSeq: cseq, Reason: "invalid request line " + quote(lines[0])}
	}
	verb, err := ParseVerb(fields[0])
	if err != nil {
		perr := err.(*ProtocolError)
		perr.CSeq = cseq
		return Request{}, perr
	}

	fields = strings.Fields(lines[2])
	if len(fields) != 3 || fields[0] != ProtocolVersion || fields[1] != TransportSpec {
		return Request{}, &ProtocolError{CSeq: cseq, Reason: "invalid transport line " + quote(lines[2])}
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil || port < 0 || port > 65535 {
		return Request{}, &ProtocolError{CSeq: cseq, Reason: "invalid client port " + quote(fields[2])}
	}

	return Request{
		Verb:       verb,
		Resource:   fields[1],
		CSeq:       cseq,
		ClientPort: port,
	}, nil
}

// Reply is a control reply. The wire form is
//
//	RTSP/1.0 <status> <reason>\n<cseq>\n
type Reply struct {
	Status Status
	CSeq   int
}

func (r Reply) Marshal() []byte {
	return fmt.Appendf(nil, "%v %d %v\n%v\n", ProtocolVersion, int(r.Status), r.Status.Text(), r.CSeq)
}

// ReadReply reads one reply from br.
func ReadReply(br *bufio.Reader) (Reply, error) {
	lines, err := readLines(br, 2)
	if err != nil {
		return Reply{}, err
	}
	cseq, err := parseCSeq(lines[1])
	if err != nil {
		return Reply{}, err
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 2 || fields[0] != ProtocolVersion {
		return Reply{}, &ProtocolError{CSeq: cseq, Reason: "invalid status line " + quote(lines[0])}
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return Reply{}, &ProtocolError{CSeq: cseq, Reason: "invalid status code " + quote(fields[1])}
	}
	return Reply{
		Status: Status(code),
		CSeq:   cseq,
	}, nil
}

func readLines(br *bufio.Reader, n int) ([]string, error) {
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, err := readLine(br)
		if err != nil {
			return nil, err
		}
		// tolerate blank lines between messages
		if len(lines) == 0 && line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func readLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			return "", err
		}
		sb.Write(frag)
		if sb.Len() > maxLineLength {
			return "", &ProtocolError{CSeq: -1, Reason: "line too long"}
		}
		if !isPrefix {
			return strings.TrimSpace(sb.String()), nil
		}
	}
}

// readTransportLine reads the last line of a request. The line ends at a
// newline, or once it holds a complete transport spec and either no more input
// is buffered or the next byte cannot belong to the port number.
func readTransportLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		if br.Buffered() == 0 && transportComplete(sb.String()) {
			return strings.TrimSpace(sb.String()), nil
		}
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			return strings.TrimSpace(sb.String()), nil
		}
		if !isDigit(b) && b != '\r' && transportComplete(sb.String()) {
			if err = br.UnreadByte(); err != nil {
				return "", err
			}
			return strings.TrimSpace(sb.String()), nil
		}
		sb.WriteByte(b)
		if sb.Len() > maxLineLength {
			return "", &ProtocolError{CSeq: -1, Reason: "line too long"}
		}
	}
}

// transportComplete reports whether line holds three fields and the last one
// is a run of digits directly at the end of the line.
func transportComplete(line string) bool {
	if line == "" || !isDigit(line[len(line)-1]) {
		return false
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return false
	}
	for i := range len(fields[2]) {
		if !isDigit(fields[2][i]) {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func parseCSeq(line string) (int, error) {
	cseq, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || cseq < 0 {
		return 0, &ProtocolError{CSeq: -1, Reason: "invalid sequence number " + quote(line)}
	}
	return cseq, nil
}
