package config

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	errEmpty       = errors.New("must not be empty")
	errNegative    = errors.New("must not be negative")
	errNotPositive = errors.New("must be positive")
)

// env reads typed values and keeps the first parse failure.
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = &Error{Key: key, Value: value, Err: err}
	}
}

func (e *env) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *env) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = i
}

func (e *env) float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

// seconds reads a possibly fractional number of seconds.
func (e *env) seconds(key string, dst *time.Duration) {
	var f float64
	v, ok := e.get(key)
	if !ok {
		return
	}
	e.float(key, &f)
	if e.err != nil {
		return
	}
	if f < 0 {
		e.fail(key, v, errNegative)
		return
	}
	*dst = time.Duration(f * float64(time.Second))
}

func (e *env) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		e.fail(key, v, errors.New("not a boolean"))
	}
}

// list reads a comma separated value. "none" entries are kept; they stand
// for a direct connection in the proxy pool.
func (e *env) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
