package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrMalformed はペイロードがイベントとして解釈できないことを表す。
// JSONとして不正な場合や必須フィールドが欠けている場合に返る。
var ErrMalformed = errors.New("イベントの形式が不正です")

// validate は必須フィールド検証に使う。validator.Validate は並行利用に安全。
var validate = validator.New(validator.WithRequiredStructEnabled())

// NewUserCreated は新しい user_created イベントを生成する。
// event_id と timestamp はここで採番される。
func NewUserCreated(userID int64, username, email string) *UserCreated {
	return &UserCreated{
		Metadata: newMetadata(TypeUserCreated),
		UserID:   userID,
		Username: username,
		Email:    email,
	}
}

// NewUserDeleted は新しい user_deleted イベントを生成する。
func NewUserDeleted(userID int64, username, email string) *UserDeleted {
	return &UserDeleted{
		Metadata: newMetadata(TypeUserDeleted),
		UserID:   userID,
		Username: username,
		Email:    email,
	}
}

func newMetadata(t Type) Metadata {
	return Metadata{
		EventType: t,
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
}

// Encode はイベントをブローカーに載せるJSONバイト列にシリアライズする。
func Encode(e Event) ([]byte, error) {
	switch v := e.(type) {
	case nil:
		return nil, fmt.Errorf("%w: イベントがnilです", ErrMalformed)
	case *UserCreated:
		if v == nil {
			return nil, fmt.Errorf("%w: イベントがnilです", ErrMalformed)
		}
	case *UserDeleted:
		if v == nil {
			return nil, fmt.Errorf("%w: イベントがnilです", ErrMalformed)
		}
	case *Unknown:
		if v == nil {
			return nil, fmt.Errorf("%w: イベントがnilです", ErrMalformed)
		}
		return v.Raw, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	return data, nil
}

// Decode はブローカーから受け取ったバイト列をイベントにデシリアライズする。
// 既知の event_type は対応する具体型に、未知の event_type は *Unknown になる。
// JSONが不正な場合や必須フィールドが欠けている場合は ErrMalformed を返す。
func Decode(data []byte) (Event, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch meta.EventType {
	case TypeUserCreated:
		return decodeAs[UserCreated](data)
	case TypeUserDeleted:
		return decodeAs[UserDeleted](data)
	default:
		return &Unknown{Metadata: meta, Raw: append([]byte(nil), data...)}, nil
	}
}

// decodeAs はペイロードを指定された具体型にデシリアライズし、必須フィールドを検証する。
func decodeAs[T any, PT interface {
	*T
	Event
}](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return PT(&v), nil
}
