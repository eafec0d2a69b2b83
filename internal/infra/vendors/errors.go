package vendors

import (
	"net/http"
	"strings"

	"github.com/zsh04/ai-trader-sub000/errs"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

// ErrMissingCredentials builds the first-use failure for an unauthenticated client.
func ErrMissingCredentials(vendor string) *errs.E {
	return errs.New(vendor, errs.CodeAuth,
		errs.WithCanonicalCode(errs.CanonicalMissingCredentials),
		errs.WithMessage("no credentials configured"),
		errs.WithRemediation("set the "+strings.ToUpper(vendor)+" API key environment variables"))
}

// ErrUnsupportedInterval reports an interval the vendor cannot serve.
func ErrUnsupportedInterval(vendor string, interval schema.Interval) *errs.E {
	return errs.New(vendor, errs.CodeInvalid,
		errs.WithCanonicalCode(errs.CanonicalUnsupportedInterval),
		errs.WithMessage("unsupported interval "+string(interval)))
}

func errsNetwork(vendor string, cause error) *errs.E {
	return errs.New(vendor, errs.CodeNetwork, errs.WithCause(cause))
}

func errsDecode(vendor string, cause error) *errs.E {
	return errs.New(vendor, errs.CodeVendor,
		errs.WithMessage("decode payload"), errs.WithCause(cause))
}

func errsStatus(vendor string, status int, body []byte) *errs.E {
	opts := []errs.Option{errs.WithHTTP(status)}
	if status == http.StatusTooManyRequests {
		opts = append(opts, errs.WithCanonicalCode(errs.CanonicalThrottled))
	}
	if len(body) > 0 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		opts = append(opts, errs.WithRawMessage(snippet))
	}
	code := errs.CodeVendor
	if status == http.StatusTooManyRequests {
		code = errs.CodeRateLimited
	}
	return errs.New(vendor, code, opts...)
}

func errsAuthFailed(vendor, fallback string, body []byte) *errs.E {
	opts := []errs.Option{
		errs.WithCanonicalCode(errs.CanonicalAuthFailed),
		errs.WithHTTP(http.StatusUnauthorized),
		errs.WithMessage("credentials rejected after retry"),
	}
	if fallback != "" {
		opts = append(opts, errs.WithRemediation("route to fallback vendor "+fallback))
	}
	if len(body) > 0 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		opts = append(opts, errs.WithRawMessage(snippet))
	}
	return errs.New(vendor, errs.CodeAuth, opts...)
}
