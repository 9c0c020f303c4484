package scanner

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,9}$`)

type enum interface {
	Valid() bool
}

// newValidator registers the "ticker" and "enum" tags used by ScanRequest
// and reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return tickerPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
		e, ok := fl.Field().Interface().(enum)
		return ok && e.Valid()
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		req := sl.Current().Interface().(models.ScanRequest)
		if req.MinFF != nil && req.MaxFF != nil && *req.MinFF > *req.MaxFF {
			sl.ReportError(req.MaxFF, "max_ff", "MaxFF", "gtefield_min_ff", "")
		}
	}, models.ScanRequest{})
	return v
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "ticker":
		return fmt.Sprintf("%q is not a valid ticker symbol", fe.Value())
	case "enum":
		return fmt.Sprintf("unknown value %q", fe.Value())
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.Slice {
			return "at most " + fe.Param() + " entries"
		}
		return "must be at most " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lt":
		return "must be < " + fe.Param()
	case "gtefield_min_ff":
		return "must be >= min_ff"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// fieldPath drops the struct name prefix: "ScanRequest.tickers[0]" -> "tickers[0]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Validate checks a request after defaults were applied and returns a
// *models.ValidationError listing every bad field.
func (s *Scanner) Validate(req models.ScanRequest) error {
	verr := &models.ValidationError{}
	if len(req.Tickers) == 0 {
		verr.Add("tickers", "no tickers requested and no default list configured")
	}
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validating scan request: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Add(fieldPath(fe), message(fe))
		}
	}
	return verr.OrNil()
}
