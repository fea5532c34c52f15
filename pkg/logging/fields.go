package logging

import "log/slog"

// Common field names for consistent logging across the service.
const (
	FieldService  = "service"
	FieldSymbol   = "symbol"
	FieldEndpoint = "endpoint"
	FieldIP       = "ip"
	FieldStatus   = "status"
	FieldDuration = "duration_ms"
	FieldError    = "error"
	FieldFile     = "file"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Symbol returns a slog attribute for an instrument symbol.
func Symbol(sym string) slog.Attr {
	return slog.String(FieldSymbol, sym)
}

// Endpoint returns a slog attribute for a destination endpoint.
func Endpoint(ep string) slog.Attr {
	return slog.String(FieldEndpoint, ep)
}

// IP returns a slog attribute for the IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// File returns a slog attribute for a spool file name.
func File(name string) slog.Attr {
	return slog.String(FieldFile, name)
}
