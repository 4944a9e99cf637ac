package model

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// privateIPRanges is the set of CIDR blocks considered non-public.
// Populated once at package init; used by ValidateTargetURL.
var privateIPRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // link-local
		"::1/128",
		"fc00::/7",  // unique-local IPv6
		"fe80::/10", // link-local IPv6
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			privateIPRanges = append(privateIPRanges, network)
		}
	}
}

// ValidateTargetURL ensures a verification target is a publicly-routable
// http/https URL. The URL is handed to a real browser, so javascript: and
// file: schemes, embedded credentials, and private/loopback addresses are
// all rejected up front.
func ValidateTargetURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url must use http or https scheme (got %q)", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("url must not include credentials")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url must include a host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("url must not point to localhost")
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, r := range privateIPRanges {
			if r.Contains(ip) {
				return fmt.Errorf("url must not point to a private or loopback address")
			}
		}
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Data  any          `json:"data"`
	Total int          `json:"total"`
	Meta  ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeOverCapacity  = "OVER_CAPACITY"
	ErrCodeInternalError = "INTERNAL_ERROR"
)
