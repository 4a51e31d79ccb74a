package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("bad slug %q", "A"), KindValidation},
		{"not found", NotFound("site not found"), KindNotFound},
		{"unauthorized", Unauthorized("not owner"), KindUnauthorized},
		{"upstream", Upstream("turso", errors.New("502")), KindUpstream},
		{"decryption", Decryption(errors.New("auth failed")), KindDecryption},
		{"wrapped", fmt.Errorf("provision: %w", Unauthorized("not owner")), KindUnauthorized},
		{"plain", errors.New("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_MessageHidesCause(t *testing.T) {
	cause := errors.New("token=abc leaked")
	err := Upstream("create database", cause)

	assert.Equal(t, "create database", Message(err))
	assert.Contains(t, err.Error(), "token=abc leaked")
	assert.ErrorIs(t, err, cause)
}
