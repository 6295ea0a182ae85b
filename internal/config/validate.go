package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cuongceg/fluxmux/internal/core"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate runs struct-level rules and then the semantic checks that need
// several fields at once. Every problem is reported, one per line.
func Validate(cfg *Config) error {
	var allErrs []error

	if err := newValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			allErrs = append(allErrs, fieldError(fe))
		}
	}

	allErrs = append(allErrs, validateEndpoints(&cfg.Pipeline)...)
	allErrs = append(allErrs, validateActions(cfg.Pipeline.Actions)...)
	allErrs = append(allErrs, validateMiddleware(&cfg.Pipeline.Middleware)...)

	return joinErrors(allErrs)
}

func fieldError(fe validator.FieldError) error {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", path)
	case "min":
		return fmt.Errorf("%s: needs at least %s entries", path, fe.Param())
	case "oneof":
		return fmt.Errorf("%s: invalid value %q (valid: %s)", path, fmt.Sprint(fe.Value()), strings.ReplaceAll(fe.Param(), " ", "|"))
	case "gte":
		return fmt.Errorf("%s: must be >= %s", path, fe.Param())
	default:
		return fmt.Errorf("%s: failed %q", path, fe.Tag())
	}
}

func validateEndpoints(p *Pipeline) []error {
	var errs []error
	if strings.TrimSpace(p.Source) != "" {
		if _, err := core.ParseDescriptor(p.Source, core.RoleSource); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.source: %w", unwrapConfig(err)))
		}
	}
	seen := make(map[string]int, len(p.Sinks))
	for i, s := range p.Sinks {
		if strings.TrimSpace(s) == "" {
			continue
		}
		if j, dup := seen[s]; dup {
			errs = append(errs, fmt.Errorf("pipeline.sinks[%d]: duplicate of sinks[%d] %q", i, j, s))
			continue
		}
		seen[s] = i
		if _, err := core.ParseDescriptor(s, core.RoleSink); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.sinks[%d]: %w", i, unwrapConfig(err)))
		}
	}
	return errs
}

func validateActions(actions []ActionSpec) []error {
	var errs []error
	for i, a := range actions {
		param := strings.TrimSpace(a.Param)
		if a.Type.NeedsParam() && param == "" {
			errs = append(errs, fmt.Errorf("pipeline.actions[%d]: %s requires param", i, a.Type))
			continue
		}
		switch a.Type {
		case ActionLimit:
			if n, err := strconv.Atoi(param); err != nil || n < 0 {
				errs = append(errs, fmt.Errorf("pipeline.actions[%d]: limit param %q must be a non-negative integer", i, a.Param))
			}
		case ActionSample:
			if r, err := strconv.ParseFloat(param, 64); err != nil || r <= 0 {
				errs = append(errs, fmt.Errorf("pipeline.actions[%d]: sample param %q must be a positive number", i, a.Param))
			}
		}
	}
	return errs
}

func validateMiddleware(mw *Middleware) []error {
	var errs []error
	if mw.BatchSize == 0 && mw.BatchTimeout > 0 {
		errs = append(errs, errors.New("pipeline.middleware.batch_timeout requires batch_size"))
	}
	if mw.RetryMaxAttempts == 0 && mw.RetryDelay > 0 {
		errs = append(errs, errors.New("pipeline.middleware.retry_delay requires retry_max_attempts"))
	}
	return errs
}

// unwrapConfig strips the "configuration error: op:" prefix so nested
// messages read once.
func unwrapConfig(err error) error {
	var ce *core.Error
	if errors.As(err, &ce) && ce.Kind == core.KindConfiguration {
		return ce.Err
	}
	return err
}

func joinErrors(errs []error) error {
	var filtered []string
	for _, e := range errs {
		if e != nil {
			filtered = append(filtered, e.Error())
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return errors.New(strings.Join(filtered, "\n"))
}
