package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect Class
	}{
		{"nil", nil, ClassNone},
		{"429", &domain.ProviderError{StatusCode: 429}, ClassTransient},
		{"500", &domain.ProviderError{StatusCode: 500}, ClassTransient},
		{"502", &domain.ProviderError{StatusCode: 502}, ClassTransient},
		{"503", &domain.ProviderError{StatusCode: 503}, ClassTransient},
		{"504", &domain.ProviderError{StatusCode: 504}, ClassTransient},
		{"505", &domain.ProviderError{StatusCode: 505}, ClassPermanent},
		{"400", &domain.ProviderError{StatusCode: 400}, ClassPermanent},
		{"401", &domain.ProviderError{StatusCode: 401}, ClassPermanent},
		{"403", &domain.ProviderError{StatusCode: 403}, ClassPermanent},
		{"404", &domain.ProviderError{StatusCode: 404}, ClassPermanent},
		{"418", &domain.ProviderError{StatusCode: 418}, ClassPermanent},
		{"302", &domain.ProviderError{StatusCode: 302}, ClassPermanent},
		{"wrapped 503", fmt.Errorf("fetch: %w", &domain.ProviderError{StatusCode: 503}), ClassTransient},
		{"malformed", &domain.MalformedError{Err: errors.New("bad json")}, ClassPermanent},
		{"conn refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, ClassTransient},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, ClassTransient},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: io.ErrUnexpectedEOF}, ClassTransient},
		{"network sentinel", fmt.Errorf("%w: timeout awaiting headers", domain.ErrNetwork), ClassTransient},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), ClassTransient},
		{"circuit open", fmt.Errorf("%w: upstream", domain.ErrCircuitOpen), ClassCircuitOpen},
		{"validation", fmt.Errorf("%w: bad window", domain.ErrValidation), ClassValidation},
		{"cancelled", context.Canceled, ClassCancelled},
		{"deadline in url error", &url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}, ClassCancelled},
		{"unknown", errors.New("something odd"), ClassPermanent},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.expect {
			t.Errorf("%s: Classify(%v) = %v, want %v", tt.name, tt.err, got, tt.expect)
		}
	}
}
