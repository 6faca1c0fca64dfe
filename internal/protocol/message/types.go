package message

import "fmt"

// Type is the envelope message type carried in the MessageType field.
type Type int32

const (
	EmptyAlive Type = 0
	Ping       Type = 1
	Pong       Type = 2
	Request    Type = 3
	Response   Type = 4
	Event      Type = 5
	File       Type = 7
	Close      Type = 10
)

var typeNames = map[Type]string{
	EmptyAlive: "EmptyAlive",
	Ping:       "Ping",
	Pong:       "Pong",
	Request:    "Request",
	Response:   "Response",
	Event:      "Event",
	File:       "File",
	Close:      "Close",
}

func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int32(t))
}

// Types returns every message type in numeric order.
func Types() []Type {
	return []Type{EmptyAlive, Ping, Pong, Request, Response, Event, File, Close}
}

// Result is the business outcome carried in a response body.
type Result int32

const (
	ResultNone                  Result = -1
	ResultSucceeded             Result = 0
	ResultPartiallyFailed       Result = 1
	ResultSessionExpired        Result = 1010
	ResultIncorrectCredentials  Result = 1020
	ResultInvalidArguments      Result = 1025
	ResultDataNotFound          Result = 1030
	ResultDocumentNotFound      Result = 1040
	ResultUnauthorizedOperation Result = 1050
	ResultServerError           Result = 1210
	ResultHandlerDoesNotExist   Result = 1220
	ResultHandlerNotImplemented Result = 1230
	ResultTimeout               Result = 1240
	ResultValidationError       Result = 1250
)

var resultNames = map[Result]string{
	ResultNone:                  "None",
	ResultSucceeded:             "Succeeded",
	ResultPartiallyFailed:       "PartiallyFailed",
	ResultSessionExpired:        "SessionExpired",
	ResultIncorrectCredentials:  "IncorrectCredentials",
	ResultInvalidArguments:      "InvalidArguments",
	ResultDataNotFound:          "DataNotFound",
	ResultDocumentNotFound:      "DocumentNotFound",
	ResultUnauthorizedOperation: "UnauthorizedOperation",
	ResultServerError:           "ServerError",
	ResultHandlerDoesNotExist:   "HandlerDoesNotExist",
	ResultHandlerNotImplemented: "HandlerNotImplemented",
	ResultTimeout:               "Timeout",
	ResultValidationError:       "ValidationError",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Result(%d)", int32(r))
}

// Failed reports whether r is one of the failure codes.
func (r Result) Failed() bool {
	return r >= 1000
}
