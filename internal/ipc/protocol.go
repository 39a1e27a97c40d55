// Package ipc implements the daemon's local control protocol: newline
// terminated JSON records over a unix domain socket, one request/response
// pair at a time per connection.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/tim-br/diakonos/internal/registry"
)

// RequestKind is the tag distinguishing one Request variant from another.
type RequestKind string

const (
	ReqStart    RequestKind = "Start"
	ReqStop     RequestKind = "Stop"
	ReqRestart  RequestKind = "Restart"
	ReqStatus   RequestKind = "Status"
	ReqList     RequestKind = "List"
	ReqPing     RequestKind = "Ping"
	ReqShutdown RequestKind = "Shutdown"
)

// Request is one line of the wire protocol, externally tagged the way the
// reference implementation's serde enum serialises: {"Start":{"service":"x"}}.
type Request struct {
	Kind    RequestKind
	Service string // set for Start/Stop/Restart/Status
}

type requestPayload struct {
	Service string `json:"service"`
}

// MarshalJSON produces the externally tagged shape {"<Kind>": {...}} for
// variants that carry a payload, or {"<Kind>": null} for those that don't.
func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ReqStart, ReqStop, ReqRestart, ReqStatus:
		return json.Marshal(map[string]requestPayload{string(r.Kind): {Service: r.Service}})
	case ReqList, ReqPing, ReqShutdown:
		return json.Marshal(map[string]json.RawMessage{string(r.Kind): json.RawMessage("null")})
	default:
		return nil, fmt.Errorf("unknown request kind %q", r.Kind)
	}
}

// UnmarshalJSON parses the externally tagged shape back into a Request.
func (r *Request) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("decoding request envelope: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("request envelope must have exactly one key, got %d", len(tagged))
	}

	for key, raw := range tagged {
		kind := RequestKind(key)
		switch kind {
		case ReqStart, ReqStop, ReqRestart, ReqStatus:
			var p requestPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decoding %s payload: %w", key, err)
			}
			r.Kind = kind
			r.Service = p.Service
		case ReqList, ReqPing, ReqShutdown:
			r.Kind = kind
			r.Service = ""
		default:
			return fmt.Errorf("unknown request kind %q", key)
		}
	}
	return nil
}

// ResponseKind is the tag distinguishing one Response variant from another.
type ResponseKind string

const (
	RespOk     ResponseKind = "Ok"
	RespError  ResponseKind = "Error"
	RespStatus ResponseKind = "Status"
	RespList   ResponseKind = "List"
	RespPong   ResponseKind = "Pong"
)

// ServiceEntry is one row of a List response.
type ServiceEntry struct {
	Name  string                `json:"name"`
	State registry.ServiceState `json:"state"`
}

// Response is one line of the wire protocol, mirroring Request's external
// tagging convention.
type Response struct {
	Kind     ResponseKind
	Message  string                // Ok, Error
	Service  string                // Status
	State    registry.ServiceState // Status
	Services []ServiceEntry        // List
}

func OkResponse(message string) Response {
	return Response{Kind: RespOk, Message: message}
}

func ErrorResponse(message string) Response {
	return Response{Kind: RespError, Message: message}
}

func StatusResponse(service string, state registry.ServiceState) Response {
	return Response{Kind: RespStatus, Service: service, State: state}
}

func ListResponse(services []ServiceEntry) Response {
	return Response{Kind: RespList, Services: services}
}

func PongResponse() Response {
	return Response{Kind: RespPong}
}

type messagePayload struct {
	Message string `json:"message"`
}

type statusPayload struct {
	Service string                `json:"service"`
	State   registry.ServiceState `json:"state"`
}

type listPayload struct {
	Services []ServiceEntry `json:"services"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RespOk, RespError:
		return json.Marshal(map[string]messagePayload{string(r.Kind): {Message: r.Message}})
	case RespStatus:
		return json.Marshal(map[string]statusPayload{string(r.Kind): {Service: r.Service, State: r.State}})
	case RespList:
		return json.Marshal(map[string]listPayload{string(r.Kind): {Services: r.Services}})
	case RespPong:
		return json.Marshal(map[string]json.RawMessage{string(r.Kind): json.RawMessage("null")})
	default:
		return nil, fmt.Errorf("unknown response kind %q", r.Kind)
	}
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("decoding response envelope: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("response envelope must have exactly one key, got %d", len(tagged))
	}

	for key, raw := range tagged {
		kind := ResponseKind(key)
		switch kind {
		case RespOk, RespError:
			var p messagePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decoding %s payload: %w", key, err)
			}
			r.Kind = kind
			r.Message = p.Message
		case RespStatus:
			var p statusPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decoding %s payload: %w", key, err)
			}
			r.Kind = kind
			r.Service = p.Service
			r.State = p.State
		case RespList:
			var p listPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decoding %s payload: %w", key, err)
			}
			r.Kind = kind
			r.Services = p.Services
		case RespPong:
			r.Kind = kind
		default:
			return fmt.Errorf("unknown response kind %q", key)
		}
	}
	return nil
}
