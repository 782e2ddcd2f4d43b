package validation

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func IsValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

// NormalizeCNPJ strips the usual punctuation (dots, slash, hyphen) and surrounding spaces.
func NormalizeCNPJ(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '/', '-', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
}

// IsValidCNPJ checks length, digits and both check digits of a normalized CNPJ.
func IsValidCNPJ(cnpj string) bool {
	if len(cnpj) != 14 {
		return false
	}
	digits := make([]int, 14)
	same := true
	for i, r := range cnpj {
		if r < '0' || r > '9' {
			return false
		}
		digits[i] = int(r - '0')
		if digits[i] != digits[0] {
			same = false
		}
	}
	if same {
		return false
	}
	return checkDigit(digits[:12]) == digits[12] && checkDigit(digits[:13]) == digits[13]
}

func checkDigit(ds []int) int {
	weight := len(ds) - 7
	sum := 0
	for _, d := range ds {
		sum += d * weight
		weight--
		if weight < 2 {
			weight = 9
		}
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator returns the shared request validator with the "cnpj" tag registered.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("cnpj", func(fl validator.FieldLevel) bool {
			return IsValidCNPJ(NormalizeCNPJ(fl.Field().String()))
		})
	})
	return validate
}
