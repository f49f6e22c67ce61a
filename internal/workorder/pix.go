package workorder

import (
	"strings"
	"workorders/internal/apperr"
	"workorders/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// NormalizePhone приводит бразильский номер к виду +55DDDNNNNNNNN.
// Строка без цифр возвращается как есть.
func NormalizePhone(value string) string {
	digits := onlyDigits(value)
	switch {
	case digits == "":
		return value
	case strings.HasPrefix(digits, "55") && (len(digits) == 12 || len(digits) == 13):
		return "+" + digits
	case len(digits) == 10 || len(digits) == 11:
		return "+55" + digits
	case strings.HasPrefix(digits, "00"):
		return "+" + digits
	default:
		return digits
	}
}

// NormalizePixKey проверяет ключ Pix по типу и возвращает каноническую форму
func NormalizePixKey(v *validator.Validate, typ models.PixKeyType, value string) (string, error) {
	value = strings.TrimSpace(value)
	bad := func(problem string) (string, error) {
		return "", apperr.Validation("pix_key_value", problem)
	}

	switch typ {
	case models.PixCPF:
		d := onlyDigits(value)
		if len(d) != 11 {
			return bad("CPF must have 11 digits")
		}
		return d, nil
	case models.PixCNPJ:
		d := onlyDigits(value)
		if len(d) != 14 {
			return bad("CNPJ must have 14 digits")
		}
		return d, nil
	case models.PixPhone:
		p := NormalizePhone(value)
		if !strings.HasPrefix(p, "+55") {
			return bad("Phone key must be a Brazilian number")
		}
		return p, nil
	case models.PixEmail:
		if err := v.Var(value, "required,email,max=77"); err != nil {
			return bad("Value must be a valid email address")
		}
		return strings.ToLower(value), nil
	case models.PixRandom:
		id, err := uuid.Parse(value)
		if err != nil {
			return bad("Random key must be a UUID")
		}
		return id.String(), nil
	default:
		return "", apperr.Validation("pix_key_type", "Value must be one of: cpf cnpj phone email random")
	}
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
