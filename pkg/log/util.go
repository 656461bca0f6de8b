package log

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// toFields turns the loose key/value arguments of the logging calls into zap
// fields. Bare errors and ready-made zap fields may appear anywhere in the
// list. A trailing value without a key is kept under "extra".
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			continue
		case error:
			fields = append(fields, zap.Error(v))
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any("extra", args[i]))
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields = append(fields, field(key, args[i+1]))
		i++
	}
	return fields
}

// field picks a typed constructor for the value types the agent and the
// worker log most: readings, optional readings and timings.
func field(key string, val any) zap.Field {
	switch v := val.(type) {
	case string:
		return zap.String(key, v)
	case float64:
		return zap.Float64(key, v)
	case *float64:
		// Optional OBD readings; nil logs as null.
		return zap.Float64p(key, v)
	case int:
		return zap.Int(key, v)
	case int64:
		return zap.Int64(key, v)
	case bool:
		return zap.Bool(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case []byte:
		return zap.ByteString(key, v)
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
