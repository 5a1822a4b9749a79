package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tilerush/backend/internal/apperrors"
)

// Пакет canonical строит детерминированную сериализацию подписываемых
// данных: ключи объектов сортируются лексикографически на каждом уровне,
// без пробелов. Подписант и верификатор всегда получают байт-в-байт
// одинаковое сообщение из эквивалентных структур.

const (
	// DeviceAuthTag — фиксированный доменный тег для device-auth подписи
	// при recovery approve. Исключает переиспользование подписи между
	// контекстами.
	DeviceAuthTag = "tilerush/device-auth/v1"
)

// Encode serializes v deterministically. Supported values: nil, bool,
// string, integer and float types, json.Number, map[string]any, []any.
// Anything else fails with an encoding_error.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeEncodingError, "string encoding failed", err)
		}
		buf.Write(b)
	case json.Number:
		buf.WriteString(val.String())
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		b, err := json.Marshal(val)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeEncodingError, "number encoding failed", err)
		}
		buf.Write(b)
	case map[string]any:
		return encodeObject(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return apperrors.New(apperrors.CodeEncodingError,
			fmt.Sprintf("unsupported type %T in signable payload", v))
	}
	return nil
}

func encodeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeEncodingError, "key encoding failed", err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// BuildOperationMessage assembles the signable payload of a wallet
// operation. The client signs exactly these bytes.
func BuildOperationMessage(operation, userID string, timestampMS int64, nonce, deviceID, sessionID string, body map[string]any) ([]byte, error) {
	msg := map[string]any{
		"operation":  operation,
		"user_id":    userID,
		"timestamp":  timestampMS,
		"nonce":      nonce,
		"device_id":  deviceID,
		"session_id": sessionID,
		"body":       normalizeBody(body),
	}
	return Encode(msg)
}

// BuildDeviceAuthMessage assembles the message a device key signs during
// recovery approval. No request body is involved; the domain tag prevents
// cross-protocol reuse.
func BuildDeviceAuthMessage(userID, deviceID, sessionID string, timestampMS int64) ([]byte, error) {
	msg := map[string]any{
		"tag":        DeviceAuthTag,
		"user_id":    userID,
		"device_id":  deviceID,
		"session_id": sessionID,
		"timestamp":  timestampMS,
	}
	return Encode(msg)
}

func normalizeBody(body map[string]any) any {
	if body == nil {
		return map[string]any{}
	}
	return body
}
