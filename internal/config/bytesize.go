package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
)

// ByteSize is a byte count written either as a plain integer or as a
// human size such as "512MiB" or "1GB".
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

func stringToByteSizeHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(ByteSize(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		return ParseByteSize(data.(string))
	}
}

// Duration mirrors time.Duration but prints as "3s" in YAML dumps
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func stringToDurationHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(Duration(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		d, err := time.ParseDuration(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", data, err)
		}
		return Duration(d), nil
	}
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToDurationHook(),
		stringToByteSizeHook(),
	)
}
