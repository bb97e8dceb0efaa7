package avatar

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingStreamingToken 表示调用方没有传入创建会话时缓存的令牌，属于集成错误。
	ErrMissingStreamingToken = errors.New("avatar: cached streaming token is required")
	ErrMissingSessionID      = errors.New("avatar: session id is required")
	ErrEmptyText             = errors.New("avatar: speech text is empty")
	ErrConfigurationMissing  = errors.New("avatar: configuration missing")
	ErrAuthFailure           = errors.New("avatar: provider rejected credentials")
	ErrProviderResponse      = errors.New("avatar: unexpected provider response")
)

// ProviderError describes a non-success answer from the avatar provider.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("avatar %s: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps the status onto the package sentinels.
func (e *ProviderError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrAuthFailure
	}
	return ErrProviderResponse
}
