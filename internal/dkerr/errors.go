// Package dkerr defines the closed error taxonomy shared by the registry,
// the supervisor and the IPC dispatcher.
package dkerr

import "fmt"

// Kind identifies one of the closed set of error categories the dispatcher
// maps to an Error{message} response.
type Kind string

const (
	KindServiceNotFound      Kind = "service_not_found"
	KindServiceAlreadyExists Kind = "service_already_exists"
	KindParseError           Kind = "parse_error"
	KindStartError           Kind = "start_error"
	KindStopError            Kind = "stop_error"
	KindDependencyCycle      Kind = "dependency_cycle"
	KindDependencyNotMet     Kind = "dependency_not_met"
	KindIoError              Kind = "io_error"
	KindProcessError         Kind = "process_error"
)

// Error is the common shape for every taxonomy member: a kind, the service
// the error concerns (when applicable), and a detail wrapping the cause.
type Error struct {
	Kind    Kind
	Service string
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Service != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Service, e.Detail)
	case e.Service != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Service)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &dkerr.Error{Kind: dkerr.KindServiceNotFound})
// style checks against a specific kind; detail is ignored, and service is
// compared only when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Service != "" && t.Service != e.Service {
		return false
	}
	return t.Kind == e.Kind
}

func ServiceNotFound(name string) error {
	return &Error{Kind: KindServiceNotFound, Service: name}
}

func ServiceAlreadyExists(name string) error {
	return &Error{Kind: KindServiceAlreadyExists, Service: name}
}

func ParseError(detail string, cause error) error {
	return &Error{Kind: KindParseError, Detail: detail, Cause: cause}
}

func StartError(name, detail string, cause error) error {
	return &Error{Kind: KindStartError, Service: name, Detail: detail, Cause: cause}
}

func StopError(name, detail string, cause error) error {
	return &Error{Kind: KindStopError, Service: name, Detail: detail, Cause: cause}
}

func DependencyCycle(name string) error {
	return &Error{Kind: KindDependencyCycle, Service: name, Detail: "dependency cycle detected"}
}

func DependencyNotMet(name, missing string) error {
	return &Error{Kind: KindDependencyNotMet, Service: name, Detail: fmt.Sprintf("missing dependency %q", missing)}
}

func IoError(detail string, cause error) error {
	return &Error{Kind: KindIoError, Detail: detail, Cause: cause}
}

func ProcessError(name, detail string, cause error) error {
	return &Error{Kind: KindProcessError, Service: name, Detail: detail, Cause: cause}
}

// KindOf returns the taxonomy kind of err, or "" if err is not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
