package resilience

import (
	"errors"
	"net"
	"reflect"
	"strings"
)

// Classifier decides whether an error is worth retrying.
type Classifier interface {
	ShouldRetry(err error) bool
}

// TypeNameOf returns the fully qualified Go type name of err's concrete
// value (package path + type name), e.g. "net.DNSError". Pointer types are
// dereferenced first; a type with no package path yields its bare name.
// Wrapped errors are not unwrapped: only err's own type is named.
func TypeNameOf(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// FQNClassifier retries based on explicit include/exclude lists of error
// type names. Exclude wins over include. An empty Include list means
// "everything not excluded is retryable".
type FQNClassifier struct {
	Include []string
	Exclude []string
}

func (c FQNClassifier) ShouldRetry(err error) bool {
	name := TypeNameOf(err)
	for _, excluded := range c.Exclude {
		if name == excluded {
			return false
		}
	}
	if len(c.Include) == 0 {
		return true
	}
	for _, included := range c.Include {
		if name == included {
			return true
		}
	}
	return false
}

// Default recognizes transient network and timeout conditions as retryable
// on top of an FQNClassifier, splitting explicit sentinel errors from
// ambient network failures.
type Default struct {
	FQN FQNClassifier
}

func (c Default) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if isTransientNetworkError(err) {
		return true
	}
	return c.FQN.ShouldRetry(err)
}

func isTransientNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
