package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/ipld/go-kvstore/codec"
)

// field pairs a codec with its command line text form.
type field[T any] struct {
	codec  codec.Codec[T]
	parse  func(string) (T, error)
	format func(T) string
}

var (
	stringField = field[string]{
		codec:  codec.String,
		parse:  func(s string) (string, error) { return s, nil },
		format: func(v string) string { return v },
	}
	int32Field = field[int32]{
		codec: codec.Int32,
		parse: func(s string) (int32, error) {
			v, err := strconv.ParseInt(s, 10, 32)
			return int32(v), err
		},
		format: func(v int32) string { return strconv.FormatInt(int64(v), 10) },
	}
	int64Field = field[int64]{
		codec:  codec.Int64,
		parse:  func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) },
		format: func(v int64) string { return strconv.FormatInt(v, 10) },
	}
	float64Field = field[float64]{
		codec:  codec.Float64,
		parse:  func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
		format: func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) },
	}
	boolField = field[bool]{
		codec:  codec.Bool,
		parse:  strconv.ParseBool,
		format: strconv.FormatBool,
	}
	bytesField = field[[]byte]{
		codec:  codec.Bytes,
		parse:  hex.DecodeString,
		format: hex.EncodeToString,
	}
)

const codecNames = "string, int32, int64, float64, bool, bytes (hex)"

// dispatch selects the key and value fields by name and runs cmd with them.
// Byte slices are not comparable and cannot be keys.
func dispatch(keyName, valueName string, cmd command) error {
	switch keyName {
	case "string":
		return withValue(stringField, valueName, cmd)
	case "int32":
		return withValue(int32Field, valueName, cmd)
	case "int64":
		return withValue(int64Field, valueName, cmd)
	case "float64":
		return withValue(float64Field, valueName, cmd)
	case "bool":
		return withValue(boolField, valueName, cmd)
	}
	return fmt.Errorf("unsupported key codec %q, use one of %s except bytes", keyName, codecNames)
}

func withValue[K comparable](key field[K], valueName string, cmd command) error {
	switch valueName {
	case "string":
		return runCommand(key, stringField, cmd)
	case "int32":
		return runCommand(key, int32Field, cmd)
	case "int64":
		return runCommand(key, int64Field, cmd)
	case "float64":
		return runCommand(key, float64Field, cmd)
	case "bool":
		return runCommand(key, boolField, cmd)
	case "bytes":
		return runCommand(key, bytesField, cmd)
	}
	return fmt.Errorf("unsupported value codec %q, use one of %s", valueName, codecNames)
}
