// Package request binds and validates handler input.
package request

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"apolice-backend/internal/pkg/apperrors"
	"apolice-backend/internal/pkg/validation"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var ErrInvalidID = errors.New("invalid id")

// Bind parses the body into dst and validates its `validate` tags.
func Bind(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.Validation("Invalid request body", err)
	}
	if err := validation.Validator().Struct(dst); err != nil {
		return apperrors.Validation(describe(err), err)
	}
	return nil
}

// ParamID reads a positive integer route parameter.
func ParamID(c *fiber.Ctx, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || v == 0 {
		return 0, apperrors.Validation(fmt.Sprintf("Invalid %s", name), ErrInvalidID)
	}
	return uint(v), nil
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "Invalid request body"
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "cnpj":
			parts = append(parts, fe.Field()+" is not a valid CNPJ")
		case "email":
			parts = append(parts, fe.Field()+" must be an email address")
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
