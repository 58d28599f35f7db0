package log

import (
	"fmt"

	"go.uber.org/zap"
)

// toFields converts logr-style key/value arguments into zap fields.
// A bare error or zap.Field may stand in for a pair. An unpaired trailing value
// is kept under "arg#N" and a non-string key under "invalid_key_N".
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
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i++
		if name, ok := key.(string); ok {
			// zap.Any picks the typed encoder for primitives, times and errors.
			fields = append(fields, zap.Any(name, val))
			continue
		}
		fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", (i+1)/2), map[string]any{
			"key":   key,
			"value": val,
		}))
	}
	return fields
}
