package rtsp

import (
	"fmt"
	"strconv"
)

type Status int

const (
	StatusOK                    Status = 200
	StatusBadRequest            Status = 400
	StatusNotFound              Status = 404
	StatusMethodNotValidInState Status = 455
	StatusInternalServerError   Status = 500
)

// Text returns the reason phrase for s.
func (s Status) Text() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusMethodNotValidInState:
		return "Method Not Valid in This State"
	case StatusInternalServerError:
		return "Internal Server Error"
	}
	return "Unknown"
}

// StatusError is returned to the requester for replies other than 200 and 404.
type StatusError struct {
	Verb   Verb
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v failed: %d %v", e.Verb, int(e.Status), e.Status.Text())
}

// ProtocolError reports a control message that could not be parsed. CSeq is
// -1 if the sequence number was not recovered.
type ProtocolError struct {
	CSeq   int
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func quote(s string) string {
	return strconv.Quote(s)
}
