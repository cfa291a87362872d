package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"biohub.org/internal/auth"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeValid decodes the JSON body into dst and validates its tags. Every
// failure wraps auth.ErrInvalidInput.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", auth.ErrInvalidInput, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, err.Error())
	}
	return nil
}
