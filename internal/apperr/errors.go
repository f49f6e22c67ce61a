// Package apperr описывает типизированные ошибки движка заявок.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Kind string

const (
	KindInvalidStage   Kind = "invalid_stage"
	KindNotFound       Kind = "not_found"
	KindAlreadyDecided Kind = "already_decided"
	KindValidation     Kind = "validation"
	KindForbidden      Kind = "forbidden"
)

// Error ошибка с видом. Fields заполняется только для Validation.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string][]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is сравнивает с сентинелом того же вида
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Add добавляет проблему к полю
func (e *Error) Add(field, problem string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], problem)
}

var (
	ErrInvalidStage   = &Error{Kind: KindInvalidStage}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrAlreadyDecided = &Error{Kind: KindAlreadyDecided}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrForbidden      = &Error{Kind: KindForbidden}
)

func New(kind Kind, msg string, args ...any) *Error {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{Kind: kind, Message: msg}
}

func InvalidStage(msg string, args ...any) *Error { return New(KindInvalidStage, msg, args...) }

func NotFound(msg string, args ...any) *Error { return New(KindNotFound, msg, args...) }

func AlreadyDecided(msg string, args ...any) *Error { return New(KindAlreadyDecided, msg, args...) }

func Forbidden(msg string, args ...any) *Error { return New(KindForbidden, msg, args...) }

func Validation(field, problem string) *Error {
	e := New(KindValidation, "invalid input")
	e.Add(field, problem)
	return e
}

// KindOf вид ошибки или пустая строка для инфраструктурных ошибок
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FromValidation переводит ошибки validator в Validation. Иные ошибки возвращаются как есть.
func FromValidation(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}

	out := New(KindValidation, "invalid input")
	for _, fe := range ve {
		field := fieldName(fe)

		switch fe.Tag() {
		case "required":
			out.Add(field, "This field is required")
		case "min", "gte":
			out.Add(field, "Value is too small, min: "+fe.Param())
		case "max", "lte":
			out.Add(field, "Value is too long, max: "+fe.Param())
		case "oneof":
			out.Add(field, "Value must be one of: "+fe.Param())
		case "email":
			out.Add(field, "Value must be a valid email address")
		case "gt":
			out.Add(field, "Value must be greater than "+fe.Param())
		default:
			out.Add(field, "Invalid value provided")
		}
	}
	return out
}

// fieldName путь без имени корневой структуры: lines[0].name
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}
