package minibgp

import (
	"fmt"
)

// ConfigParseError is returned when a configuration field is malformed.
type ConfigParseError struct {
	// Field is the name of the offending field, e.g. "local AS".
	Field string
	// Value is the raw input that failed to parse.
	Value string
	Err   error
}

func newConfigParseError(field, value string, err error) *ConfigParseError {
	return &ConfigParseError{
		Field: field,
		Value: value,
		Err:   err,
	}
}

func (c *ConfigParseError) Error() string {
	return fmt.Sprintf("cannot parse %s %q: %v", c.Field, c.Value, c.Err)
}

func (c *ConfigParseError) Unwrap() error {
	return c.Err
}

// ConversionError is returned when bytes cannot be converted to a BGP message.
type ConversionError struct {
	Err error
}

func newConversionError(err error) *ConversionError {
	return &ConversionError{
		Err: err,
	}
}

func (c *ConversionError) Error() string {
	return fmt.Sprintf("failed to convert bytes to BGP message: %v", c.Err)
}

func (c *ConversionError) Unwrap() error {
	return c.Err
}

// ConnectionError is returned when the transport of a session cannot be
// established or fails while in use.
type ConnectionError struct {
	// Op is the failed operation: dial, listen, accept, read or write.
	Op   string
	Addr string
	Err  error
}

func newConnectionError(op, addr string, err error) *ConnectionError {
	return &ConnectionError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

func (c *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", c.Op, c.Addr, c.Err)
}

func (c *ConnectionError) Unwrap() error {
	return c.Err
}
